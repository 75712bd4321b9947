package storage

import (
	"testing"
	"time"

	"chatraw/model"
)

func TestPluginSaveLoadList(t *testing.T) {
	s := newTestStore(t)

	now := time.Now()
	rec := InstalledPlugin{
		ID:        "web-search",
		Version:   "0.2.1",
		SourceURL: "https://plugins.example.com/web-search.lua",
		Enabled:   true,
		Manifest:  `{"id":"web-search","hooks":["web_search"]}`,
	}
	rec.InstalledAt = now
	rec.UpdatedAt = now

	if err := s.SavePlugin(rec); err != nil {
		t.Fatalf("SavePlugin: %v", err)
	}

	got, err := s.LoadPlugin("web-search")
	if err != nil {
		t.Fatalf("LoadPlugin: %v", err)
	}
	if got == nil {
		t.Fatal("plugin not found after save")
	}
	if got.Version != "0.2.1" || !got.Enabled || got.Manifest != rec.Manifest {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if got.SettingsValues != "{}" {
		t.Errorf("empty settings should default to {}, got %q", got.SettingsValues)
	}

	list, err := s.ListPlugins()
	if err != nil {
		t.Fatalf("ListPlugins: %v", err)
	}
	if len(list) != 1 || list[0].ID != "web-search" {
		t.Errorf("ListPlugins: %+v", list)
	}
}

func TestLoadPluginMissing(t *testing.T) {
	s := newTestStore(t)
	got, err := s.LoadPlugin("nope")
	if err != nil {
		t.Fatalf("LoadPlugin: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for a missing plugin, got %+v", got)
	}
}

func TestSetPluginEnabled(t *testing.T) {
	s := newTestStore(t)

	now := time.Now()
	s.SavePlugin(InstalledPlugin{ID: "p", Version: "1", SourceURL: "u", Enabled: true, Manifest: "{}", InstalledAt: now, UpdatedAt: now})

	if err := s.SetPluginEnabled("p", false); err != nil {
		t.Fatal(err)
	}
	got, _ := s.LoadPlugin("p")
	if got.Enabled {
		t.Error("disable did not persist")
	}

	if err := s.SetPluginEnabled("ghost", true); err == nil {
		t.Error("toggling an unknown plugin must error")
	}
}

func TestSetPluginError(t *testing.T) {
	s := newTestStore(t)

	now := time.Now()
	s.SavePlugin(InstalledPlugin{ID: "p", Version: "1", SourceURL: "u", Enabled: true, Manifest: "{}", InstalledAt: now, UpdatedAt: now})

	if err := s.SetPluginError("p", "dependency fetch failed"); err != nil {
		t.Fatal(err)
	}
	got, _ := s.LoadPlugin("p")
	if got.LastError != "dependency fetch failed" {
		t.Errorf("LastError = %q", got.LastError)
	}

	if err := s.SetPluginError("p", ""); err != nil {
		t.Fatal(err)
	}
	got, _ = s.LoadPlugin("p")
	if got.LastError != "" {
		t.Error("clearing the error did not persist")
	}
}

func TestCacheChatsReplacesWholesale(t *testing.T) {
	s := newTestStore(t)

	err := s.CacheChats([]model.Chat{
		{ID: "old", Title: "first", CreatedAt: "2026-08-25T10:00:00", UpdatedAt: "2026-08-25T10:00:00"},
		{ID: "new", Title: "second", CreatedAt: "2026-08-26T09:00:00", UpdatedAt: "2026-08-26T09:00:00"},
	})
	if err != nil {
		t.Fatal(err)
	}

	err = s.CacheChats([]model.Chat{{ID: "only", Title: "third", CreatedAt: "2026-08-26T12:00:00", UpdatedAt: "2026-08-26T12:00:00"}})
	if err != nil {
		t.Fatal(err)
	}

	chats, err := s.CachedChats()
	if err != nil {
		t.Fatal(err)
	}
	if len(chats) != 1 || chats[0].ID != "only" {
		t.Errorf("cache must be replaced, not merged: %+v", chats)
	}
}

func TestCacheDocuments(t *testing.T) {
	s := newTestStore(t)

	err := s.CacheDocuments([]model.Document{{ID: "d1", Filename: "notes.pdf", CreatedAt: "2026-08-26T12:00:00"}})
	if err != nil {
		t.Fatal(err)
	}

	docs, err := s.CachedDocuments()
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 1 || docs[0].Filename != "notes.pdf" {
		t.Errorf("CachedDocuments: %+v", docs)
	}
}
