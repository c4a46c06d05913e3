package mcpserver

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/png"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"doodlegrid/internal/domain"
	"doodlegrid/internal/geometry"
	"doodlegrid/internal/render"
	"doodlegrid/internal/service"
	"doodlegrid/internal/storage/memory"
)

func newTestServer(t *testing.T, mode ApprovalMode) *Server {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	backend := memory.New()
	emitter := &service.MockEmitter{}
	assets := service.NewAssetService(backend, service.DefaultAssetOptions(), emitter, nil)
	renderer := &render.Renderer{ThumbSize: 8, ViewportWidth: 32, ViewportHeight: 32, ExportMinScale: 1, ExportMaxScale: 1, ExportMaxDimension: 64, ExportQuality: 80}
	docs := service.NewDocumentService(backend, assets, renderer, time.Hour, emitter, nil)
	t.Cleanup(func() { _ = docs.CloseAll(context.Background()) })

	return New(ctx, Deps{
		Emitter:     emitter,
		Documents:   docs,
		Assets:      assets,
		Maintenance: service.NewMaintenance(backend, docs, service.MaintenanceOptions{}, emitter, nil),
		Approval:    mode,
	})
}

func request(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, res)
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok, "first content is %T", res.Content[0])
	return text.Text
}

func decode[T any](t *testing.T, res *mcp.CallToolResult) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &v))
	return v
}

func tinyPNG(t *testing.T) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 4, 4))))
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func TestTools_EditFlow(t *testing.T) {
	ctx := context.Background()
	s := newTestServer(t, ApprovalDeny)

	created := decode[domain.DocumentInfo](t, must(s.handleCreateDocument(ctx, request(nil))))
	require.NotEmpty(t, created.ID)

	state := decode[service.StateChange](t, must(s.handleGetState(ctx, request(nil))))
	assert.Equal(t, created.ID, state.DocumentID)
	assert.Equal(t, 1, state.Versions)

	state = decode[service.StateChange](t, must(s.handlePushAlpha(ctx, request(map[string]any{
		"slot": "ref", "alpha": 0.25,
	}))))
	assert.Equal(t, 0.25, state.State.Reference.Alpha)

	state = decode[service.StateChange](t, must(s.handlePushTransform(ctx, request(map[string]any{
		"reference": []any{2.0, 0.0, 0.0, 2.0, 10.0, 5.0},
	}))))
	assert.Equal(t, 3, state.Versions)
	assert.Equal(t, 2.0, state.State.Reference.Transform.Scale())

	state = decode[service.StateChange](t, must(s.handleUndo(ctx, request(nil))))
	assert.Equal(t, 1, state.Cursor)
	assert.True(t, state.CanRedo)
	state = decode[service.StateChange](t, must(s.handleRedo(ctx, request(nil))))
	assert.Equal(t, 2, state.Cursor)

	assert.Equal(t, "Already at the newest state", resultText(t, must(s.handleRedo(ctx, request(nil)))))
}

func TestTools_PushTransformRejectsShear(t *testing.T) {
	ctx := context.Background()
	s := newTestServer(t, ApprovalDeny)
	must(s.handleCreateDocument(ctx, request(nil)))

	_, err := s.handlePushTransform(ctx, request(map[string]any{
		"background": []any{1.0, 0.5, 0.0, 1.0, 0.0, 0.0},
	}))
	assert.Error(t, err)
	_, err = s.handlePushTransform(ctx, request(map[string]any{
		"background": []any{1.0, 0.0},
	}))
	assert.Error(t, err)
}

func TestTools_GestureDragAndUndo(t *testing.T) {
	ctx := context.Background()
	s := newTestServer(t, ApprovalDeny)
	must(s.handleCreateDocument(ctx, request(nil)))

	for _, args := range []map[string]any{
		{"action": "start", "id": 1.0, "x": 0.0, "y": 0.0},
		{"action": "move", "id": 1.0, "x": 12.0, "y": 4.0},
		{"action": "end", "id": 1.0},
	} {
		must(s.handleGesture(ctx, request(args)))
	}

	state := decode[gestureState](t, must(s.handleCommitGesture(ctx, request(nil))))
	assert.False(t, state.Pending)
	assert.Equal(t, 2, state.Snapshot.Versions)
	assert.True(t, state.Background.Equal(geometry.Matrix{1, 0, 0, 1, 12, 4}), "%v", state.Background)
	assert.True(t, state.Snapshot.State.Reference.Transform.Equal(state.Reference))

	must(s.handleUndo(ctx, request(nil)))
	state = decode[gestureState](t, must(s.handleCommitGesture(ctx, request(nil))))
	assert.True(t, state.Background.Equal(geometry.IdentityMatrix()))
	assert.Equal(t, 0, state.Snapshot.Cursor)
}

func TestTools_ZoomAndLock(t *testing.T) {
	ctx := context.Background()
	s := newTestServer(t, ApprovalDeny)
	must(s.handleCreateDocument(ctx, request(nil)))

	state := decode[gestureState](t, must(s.handleLockBackground(ctx, request(map[string]any{"locked": true}))))
	assert.True(t, state.LockBackground)

	state = decode[gestureState](t, must(s.handleZoom(ctx, request(map[string]any{
		"x": 0.0, "y": 0.0, "ratio": 2.0,
	}))))
	assert.True(t, state.Pending)
	assert.True(t, state.Background.Equal(geometry.IdentityMatrix()))
	assert.InDelta(t, 2.0, state.Reference.Scale(), 1e-9)

	_, err := s.handleZoom(ctx, request(map[string]any{"x": 0.0, "y": 0.0, "ratio": 0.0}))
	assert.Error(t, err)
	_, err = s.handleGesture(ctx, request(map[string]any{"action": "fling"}))
	assert.Error(t, err)

	state = decode[gestureState](t, must(s.handleGesture(ctx, request(map[string]any{
		"action": "pivot", "x": 200.0, "y": 200.0,
	}))))
	require.NotNil(t, state.Pivoted)
	assert.False(t, *state.Pivoted, "no reference image to pivot on")
}

func TestTools_NoActiveDocument(t *testing.T) {
	s := newTestServer(t, ApprovalDeny)
	_, err := s.handleGetState(context.Background(), request(nil))
	assert.ErrorContains(t, err, "no active document")
}

func TestTools_UploadAndExport(t *testing.T) {
	ctx := context.Background()
	s := newTestServer(t, ApprovalDeny)
	must(s.handleCreateDocument(ctx, request(nil)))

	out := decode[map[string]any](t, must(s.handleUploadImage(ctx, request(map[string]any{
		"slot": "background", "data": tinyPNG(t),
	}))))
	assert.EqualValues(t, 1, out["assetId"])

	_, err := s.handleUploadImage(ctx, request(map[string]any{"slot": "background"}))
	assert.Error(t, err)

	assets := decode[[]domain.AssetInfo](t, must(s.handleListAssets(ctx, request(nil))))
	require.Len(t, assets, 1)

	res := must(s.handleExportDocument(ctx, request(nil)))
	require.Len(t, res.Content, 2)
	img, ok := res.Content[1].(mcp.ImageContent)
	require.True(t, ok)
	assert.Equal(t, "image/jpeg", img.MIMEType)

	report := decode[service.AuditReport](t, must(s.handleAudit(ctx, request(nil))))
	assert.True(t, report.Clean())
}

func TestTools_DeleteNeedsApproval(t *testing.T) {
	ctx := context.Background()

	denied := newTestServer(t, ApprovalDeny)
	doc := decode[domain.DocumentInfo](t, must(denied.handleCreateDocument(ctx, request(nil))))
	_, err := denied.handleDeleteDocument(ctx, request(map[string]any{"documentId": doc.ID}))
	assert.Error(t, err)
	list := decode[[]domain.DocumentInfo](t, must(denied.handleListDocuments(ctx, request(nil))))
	assert.Len(t, list, 1)

	auto := newTestServer(t, ApprovalAuto)
	doc = decode[domain.DocumentInfo](t, must(auto.handleCreateDocument(ctx, request(nil))))
	must(auto.handleDeleteDocument(ctx, request(map[string]any{"documentId": doc.ID})))
	list = decode[[]domain.DocumentInfo](t, must(auto.handleListDocuments(ctx, request(nil))))
	assert.Empty(t, list)

	_, err = auto.handleGetState(ctx, request(nil))
	assert.Error(t, err, "active document is cleared")
}

func TestApprovalQueue_Ask(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	emitter := &service.MockEmitter{}
	q := NewApprovalQueue(ctx, emitter, ApprovalAsk)

	assert.False(t, q.Approve("unknown"))

	type outcome struct {
		ok  bool
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		ok, err := q.Request("repair_assets", "cleanup")
		done <- outcome{ok, err}
	}()

	require.Eventually(t, func() bool { return len(q.Pending()) == 1 }, time.Second, 5*time.Millisecond)
	action := q.Pending()[0]
	assert.Equal(t, "repair_assets", action.Tool)
	require.True(t, q.Approve(action.ID))

	select {
	case got := <-done:
		assert.True(t, got.ok)
		assert.NoError(t, got.err)
	case <-time.After(time.Second):
		t.Fatal("Request did not return after Approve")
	}
	assert.Empty(t, q.Pending())
	assert.Len(t, emitter.Named("mcp:approval-required"), 1)
}

func TestApprovalQueue_Reject(t *testing.T) {
	q := NewApprovalQueue(context.Background(), &service.MockEmitter{}, ApprovalAsk)

	done := make(chan error, 1)
	go func() {
		_, err := q.Request("delete_document", "delete")
		done <- err
	}()
	require.Eventually(t, func() bool { return len(q.Pending()) == 1 }, time.Second, 5*time.Millisecond)
	q.Reject(q.Pending()[0].ID)

	select {
	case err := <-done:
		assert.ErrorContains(t, err, "rejected")
	case <-time.After(time.Second):
		t.Fatal("Request did not return after Reject")
	}
}

func TestDocumentIDFromURI(t *testing.T) {
	cases := []struct {
		uri  string
		want string
		ok   bool
	}{
		{"doodlegrid://document/abc/thumbnail", "abc", true},
		{"doodlegrid://document//thumbnail", "", false},
		{"doodlegrid://document/a/b/thumbnail", "", false},
		{"doodlegrid://documents", "", false},
	}
	for _, tc := range cases {
		got, err := documentIDFromURI(tc.uri)
		if !tc.ok {
			assert.Error(t, err, tc.uri)
			continue
		}
		require.NoError(t, err, tc.uri)
		assert.Equal(t, tc.want, got)
	}
}

func must(res *mcp.CallToolResult, err error) *mcp.CallToolResult {
	if err != nil {
		panic(err)
	}
	return res
}
