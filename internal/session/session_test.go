package session

import (
	"errors"
	"os"
	"testing"
	"time"

	"google.golang.org/genai"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return store
}

func sampleHistory() []*genai.Content {
	fr := genai.NewPartFromFunctionResponse("write_file", map[string]any{"success": true, "content": "ok"})
	fr.FunctionResponse.ID = "toolu_1"
	return []*genai.Content{
		genai.NewContentFromText("build a pong game\nwith two paddles", genai.RoleUser),
		{Role: genai.RoleModel, Parts: []*genai.Part{
			{FunctionCall: &genai.FunctionCall{ID: "toolu_1", Name: "write_file", Args: map[string]any{"path": "index.html"}}},
		}},
		{Role: genai.RoleUser, Parts: []*genai.Part{fr}},
		{Role: genai.RoleModel, Parts: []*genai.Part{genai.NewPartFromText("Done.")}},
	}
}

func TestRoundTrip(t *testing.T) {
	store := openStore(t)

	rec := FromHistory("task-1", "/work", sampleHistory())
	if rec.Title != "build a pong game" {
		t.Errorf("title = %q", rec.Title)
	}
	if err := store.Save(rec); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := store.Load("task-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.WorkDir != "/work" {
		t.Errorf("workdir = %q", loaded.WorkDir)
	}

	history := loaded.Contents()
	if len(history) != 4 {
		t.Fatalf("history length = %d, want 4", len(history))
	}
	if history[0].Role != genai.RoleUser || history[0].Parts[0].Text != "build a pong game\nwith two paddles" {
		t.Errorf("first turn = %+v", history[0])
	}

	fc := history[1].Parts[0].FunctionCall
	if fc == nil || fc.ID != "toolu_1" || fc.Name != "write_file" || fc.Args["path"] != "index.html" {
		t.Errorf("function call = %+v", fc)
	}

	fr := history[2].Parts[0].FunctionResponse
	if fr == nil || fr.ID != "toolu_1" || fr.Response["success"] != true {
		t.Errorf("function response = %+v", fr)
	}
}

func TestRoundTripInlineData(t *testing.T) {
	store := openStore(t)
	png := []byte{0x89, 'P', 'N', 'G', 0, 1, 2, 3}

	history := []*genai.Content{{
		Role: genai.RoleUser,
		Parts: []*genai.Part{
			genai.NewPartFromText("what is in this image"),
			{InlineData: &genai.Blob{MIMEType: "image/png", Data: png}},
		},
	}}
	if err := store.Save(FromHistory("img", "", history)); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := store.Load("img")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	blob := loaded.Contents()[0].Parts[1].InlineData
	if blob == nil || blob.MIMEType != "image/png" {
		t.Fatalf("blob = %+v", blob)
	}
	if string(blob.Data) != string(png) {
		t.Errorf("blob bytes changed: %v", blob.Data)
	}
}

func TestEmptyTextSurvivesResend(t *testing.T) {
	store := openStore(t)
	history := []*genai.Content{
		{Role: genai.RoleModel, Parts: []*genai.Part{{Text: ""}}},
	}
	if err := store.Save(FromHistory("empty", "", history)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := store.Load("empty")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := loaded.Contents()[0].Parts[0].Text; got != " " {
		t.Errorf("empty text became %q, want a single space", got)
	}
}

func TestResaveKeepsStartedAt(t *testing.T) {
	store := openStore(t)
	origin := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

	first := FromHistory("keep", "", sampleHistory())
	first.StartedAt = origin
	if err := store.Save(first); err != nil {
		t.Fatalf("Save: %v", err)
	}

	again := FromHistory("keep", "", sampleHistory())
	if err := store.Save(again); err != nil {
		t.Fatalf("re-Save: %v", err)
	}

	loaded, err := store.Load("keep")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !loaded.StartedAt.Equal(origin) {
		t.Errorf("StartedAt = %v, want the original %v", loaded.StartedAt, origin)
	}
}

func TestListNewestFirst(t *testing.T) {
	store := openStore(t)
	base := time.Now().Add(-time.Hour)

	for i, id := range []string{"a", "b", "c"} {
		rec := FromHistory(id, "", sampleHistory())
		rec.LastActive = base.Add(time.Duration(i) * time.Minute)
		if err := store.Save(rec); err != nil {
			t.Fatalf("Save %s: %v", id, err)
		}
	}

	infos, err := store.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(infos) != 3 {
		t.Fatalf("listed %d, want 3", len(infos))
	}
	if infos[0].ID != "c" || infos[2].ID != "a" {
		t.Errorf("order = %s,%s,%s, want c,b,a", infos[0].ID, infos[1].ID, infos[2].ID)
	}
	if infos[0].Entries != 4 {
		t.Errorf("entries = %d, want 4", infos[0].Entries)
	}
}

func TestLoadLatest(t *testing.T) {
	store := openStore(t)

	rec, err := store.LoadLatest()
	if err != nil || rec != nil {
		t.Fatalf("empty store LoadLatest = %v, %v", rec, err)
	}

	old := FromHistory("old", "", sampleHistory())
	old.LastActive = time.Now().Add(-time.Hour)
	fresh := FromHistory("fresh", "", sampleHistory())
	for _, r := range []*Record{old, fresh} {
		if err := store.Save(r); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	rec, err = store.LoadLatest()
	if err != nil {
		t.Fatalf("LoadLatest: %v", err)
	}
	if rec.ID != "fresh" {
		t.Errorf("latest = %s, want fresh", rec.ID)
	}
}

func TestPruneByCountAndAge(t *testing.T) {
	store := openStore(t)
	base := time.Now()

	for i, id := range []string{"s1", "s2", "s3", "s4", "s5"} {
		rec := FromHistory(id, "", sampleHistory())
		rec.LastActive = base.Add(-time.Duration(i) * time.Minute)
		if err := store.Save(rec); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	removed, err := store.Prune(0, 3)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}
	infos, _ := store.List()
	if len(infos) != 3 || infos[0].ID != "s1" {
		t.Errorf("survivors = %+v", infos)
	}

	stale := FromHistory("stale", "", sampleHistory())
	stale.LastActive = base.Add(-48 * time.Hour)
	if err := store.Save(stale); err != nil {
		t.Fatalf("Save: %v", err)
	}
	removed, err = store.Prune(24*time.Hour, 0)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if removed != 1 {
		t.Errorf("age prune removed = %d, want 1", removed)
	}
	if _, err := store.Load("stale"); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("stale transcript still present: %v", err)
	}
}

func TestDeleteAndMissing(t *testing.T) {
	store := openStore(t)
	if err := store.Save(FromHistory("gone", "", sampleHistory())); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := store.Delete("gone"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Load("gone"); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Load after delete = %v, want not-exist", err)
	}
}

func TestRejectsPathTraversal(t *testing.T) {
	store := openStore(t)
	for _, id := range []string{"", "../escape", "a/b", "a\\b"} {
		if _, err := store.Load(id); !errors.Is(err, errInvalidID) {
			t.Errorf("Load(%q) = %v, want invalid id", id, err)
		}
	}
}
