package plugin

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"chatraw/gateway"
	"chatraw/hook"
	"chatraw/storage"
)

// countingFetcher serves modules from memory and counts fetches per URL.
type countingFetcher struct {
	mu    sync.Mutex
	files map[string]string
	count map[string]int
}

func newCountingFetcher(files map[string]string) *countingFetcher {
	return &countingFetcher{files: files, count: make(map[string]int)}
}

func (f *countingFetcher) fetch(url string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count[url]++
	code, ok := f.files[url]
	if !ok {
		return nil, fmt.Errorf("fetch %s: status 404", url)
	}
	return []byte(code), nil
}

func (f *countingFetcher) fetches(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count[url]
}

func newTestManager(t *testing.T, files map[string]string) (*Manager, *storage.Store, *countingFetcher) {
	t.Helper()
	store, err := storage.New(t.TempDir())
	if err != nil {
		t.Fatalf("storage: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	m := NewManager(store, gateway.New("http://127.0.0.1:1"), t.TempDir())
	f := newCountingFetcher(files)
	m.Loader().SetFetcher(f.fetch)
	return m, store, f
}

const manifestA = `{"id":"a","version":"1.0.0","main":"https://x/a.lua","hooks":["before_send"]}`
const manifestB = `{"id":"b","version":"1.0.0","main":"https://x/b.lua","hooks":["before_send"]}`

func TestInstallLoadsAndRegistersHooks(t *testing.T) {
	m, _, _ := newTestManager(t, map[string]string{
		"https://x/a.lua": `chatraw.register_hook("before_send", 10, function(args)
			return {success=true, body={web_content="X"}}
		end)`,
	})

	desc, err := m.InstallManifest([]byte(manifestA), "https://x/a.json")
	if err != nil {
		t.Fatalf("install: %v", err)
	}
	if desc.ID != "a" || !desc.Enabled {
		t.Fatalf("descriptor: %+v", desc)
	}
	if !m.Loader().Loaded("a") {
		t.Fatal("plugin not loaded after install")
	}

	res := m.Registry().Dispatch(context.Background(), hook.BeforeSend, map[string]any{"body": map[string]any{}})
	if !res.Handled {
		t.Fatal("hook not dispatched")
	}
	body, _ := res.Payload["body"].(map[string]any)
	if body["web_content"] != "X" {
		t.Errorf("payload = %+v", res.Payload)
	}
}

func TestDispatchFirstSuccessWinsAcrossPlugins(t *testing.T) {
	m, store, _ := newTestManager(t, map[string]string{
		"https://x/a.lua": `chatraw.register_hook("before_send", 10, function(args)
			return {success=true, body={web_content="X"}}
		end)`,
		"https://x/b.lua": `chatraw.register_hook("before_send", 5, function(args)
			chatraw.storage_set("ran", true)
			return {success=true, body={web_content="Y"}}
		end)`,
	})

	// B installs first; priority, not install order, decides.
	if _, err := m.InstallManifest([]byte(manifestB), ""); err != nil {
		t.Fatal(err)
	}
	if _, err := m.InstallManifest([]byte(manifestA), ""); err != nil {
		t.Fatal(err)
	}

	res := m.Registry().Dispatch(context.Background(), hook.BeforeSend, nil)
	body, _ := res.Payload["body"].(map[string]any)
	if body["web_content"] != "X" {
		t.Errorf("expected plugin a's contribution only, got %+v", res.Payload)
	}

	if _, found, _ := store.KVGet("b", "ran"); found {
		t.Error("lower-priority handler must never execute after a higher-priority success")
	}
}

func TestDependencyFailureIsNonFatal(t *testing.T) {
	m, store, _ := newTestManager(t, map[string]string{
		"https://x/a.lua": `chatraw.register_hook("before_send", 1, function(args)
			return {success=true}
		end)`,
		// https://x/dep.lua deliberately absent
	})

	manifest := `{"id":"a","version":"1","main":"https://x/a.lua","hooks":["before_send"],"dependencies":{"helper":"https://x/dep.lua"}}`
	if _, err := m.InstallManifest([]byte(manifest), ""); err != nil {
		t.Fatalf("install must survive a missing dependency: %v", err)
	}
	if !m.Loader().Loaded("a") {
		t.Fatal("plugin should load with reduced capability")
	}

	rec, _ := store.LoadPlugin("a")
	if rec.LastError != "" {
		t.Errorf("dependency failure must not mark the plugin failed: %q", rec.LastError)
	}
}

func TestDependencyIsCachedAcrossReloads(t *testing.T) {
	m, _, f := newTestManager(t, map[string]string{
		"https://x/a.lua":   `x = 1`,
		"https://x/dep.lua": `helper = function() return 42 end`,
	})

	manifest := `{"id":"a","version":"1","main":"https://x/a.lua","hooks":[],"dependencies":{"helper":"https://x/dep.lua"}}`
	if _, err := m.InstallManifest([]byte(manifest), ""); err != nil {
		t.Fatal(err)
	}

	// Disable and re-enable: the module refetches, the dependency is
	// served from cache.
	if err := m.Toggle("a", false); err != nil {
		t.Fatal(err)
	}
	if err := m.Toggle("a", true); err != nil {
		t.Fatal(err)
	}

	if got := f.fetches("https://x/dep.lua"); got != 1 {
		t.Errorf("dependency fetched %d times, want 1", got)
	}
	if got := f.fetches("https://x/a.lua"); got != 2 {
		t.Errorf("main module fetched %d times, want 2", got)
	}
}

func TestMainModuleFailureLeavesPluginInstalled(t *testing.T) {
	m, store, _ := newTestManager(t, map[string]string{
		// main module absent -> fetch fails
	})

	desc, err := m.InstallManifest([]byte(manifestA), "")
	if err != nil {
		t.Fatalf("install itself must not fail: %v", err)
	}
	if desc == nil {
		t.Fatal("descriptor should still come back")
	}
	if !store.IsInstalled("a") {
		t.Fatal("plugin must remain installed")
	}

	rec, _ := store.LoadPlugin("a")
	if rec.LastError == "" {
		t.Error("load failure must be recorded on the plugin")
	}
	if m.Loader().Loaded("a") {
		t.Error("failed plugin must not report a live runtime")
	}
}

func TestMainExecFailureKeepsEarlierRegistrations(t *testing.T) {
	m, _, _ := newTestManager(t, map[string]string{
		"https://x/a.lua": `chatraw.register_hook("before_send", 1, function(args)
			return {success=true, body={}}
		end)
		error("boom after registering")`,
	})

	m.InstallManifest([]byte(manifestA), "")

	res := m.Registry().Dispatch(context.Background(), hook.BeforeSend, nil)
	if !res.Handled {
		t.Error("registrations made before the failure should survive")
	}
}

func TestToggleDisableSkipsHandlers(t *testing.T) {
	m, _, _ := newTestManager(t, map[string]string{
		"https://x/a.lua": `chatraw.register_hook("before_send", 1, function(args)
			return {success=true, body={}}
		end)`,
	})
	m.InstallManifest([]byte(manifestA), "")

	if err := m.Toggle("a", false); err != nil {
		t.Fatal(err)
	}
	res := m.Registry().Dispatch(context.Background(), hook.BeforeSend, nil)
	if res.Handled {
		t.Error("disabled plugin's handler must not run")
	}

	if err := m.Toggle("a", true); err != nil {
		t.Fatal(err)
	}
	res = m.Registry().Dispatch(context.Background(), hook.BeforeSend, nil)
	if !res.Handled {
		t.Error("re-enabled plugin must work again")
	}
}

func TestToggleUnknownPlugin(t *testing.T) {
	m, _, _ := newTestManager(t, nil)
	if err := m.Toggle("ghost", true); err == nil {
		t.Error("toggling an uninstalled plugin must error")
	}
}

func TestUninstallRemovesEverything(t *testing.T) {
	m, store, _ := newTestManager(t, map[string]string{
		"https://x/a.lua": `chatraw.storage_set("k", "v")
		chatraw.register_hook("before_send", 1, function(args)
			return {success=true}
		end)`,
	})
	m.InstallManifest([]byte(manifestA), "")

	if err := m.Uninstall("a"); err != nil {
		t.Fatal(err)
	}

	if store.IsInstalled("a") {
		t.Error("record survived uninstall")
	}
	if _, found, _ := store.KVGet("a", "k"); found {
		t.Error("storage namespace survived uninstall")
	}
	if res := m.Registry().Dispatch(context.Background(), hook.BeforeSend, nil); res.Handled {
		t.Error("registrations survived uninstall")
	}
}

func TestStartupLoadsOnlyEnabledPlugins(t *testing.T) {
	m, store, _ := newTestManager(t, map[string]string{
		"https://x/a.lua": `x = 1`,
		"https://x/b.lua": `y = 1`,
	})
	m.InstallManifest([]byte(manifestA), "")
	m.InstallManifest([]byte(manifestB), "")
	m.Toggle("b", false)

	// Fresh manager over the same store simulates a restart.
	m2 := NewManager(store, gateway.New("http://127.0.0.1:1"), t.TempDir())
	m2.Loader().SetFetcher(m.Loader().fetch)
	if err := m2.Startup(); err != nil {
		t.Fatal(err)
	}

	if !m2.Loader().Loaded("a") {
		t.Error("enabled plugin not loaded at startup")
	}
	if m2.Loader().Loaded("b") {
		t.Error("disabled plugin must not load at startup")
	}
}

func TestLuaStorageRoundTripAndQuota(t *testing.T) {
	m, store, _ := newTestManager(t, map[string]string{
		"https://x/a.lua": `
		ok_small = chatraw.storage_set("small", {lang="de", n=3})
		ok_big = chatraw.storage_set("big", string.rep("x", 1100000))
		small = chatraw.storage_get("small")
		missing = chatraw.storage_get("nope", "fallback")
		`,
	})
	m.InstallManifest([]byte(manifestA), "")

	raw, found, _ := store.KVGet("a", "small")
	if !found {
		t.Fatal("small value not persisted")
	}
	if raw == "" {
		t.Fatal("empty serialized value")
	}
	if _, found, _ := store.KVGet("a", "big"); found {
		t.Error("oversized value must not be written")
	}

	rec, _ := store.LoadPlugin("a")
	if rec.LastError != "" {
		t.Errorf("quota rejection must not fail the load: %q", rec.LastError)
	}
}

func TestSaveSettingsAppliesToRunningPlugin(t *testing.T) {
	m, store, _ := newTestManager(t, map[string]string{
		"https://x/a.lua": `chatraw.register_hook("before_send", 1, function(args)
			return {success=true, lang=chatraw.get_setting("lang")}
		end)`,
	})

	manifest := `{"id":"a","version":"1","main":"https://x/a.lua","hooks":["before_send"],"settings":[{"name":"lang","type":"string","default":"en"}]}`
	m.InstallManifest([]byte(manifest), "")

	res := m.Registry().Dispatch(context.Background(), hook.BeforeSend, nil)
	if res.String("lang") != "en" {
		t.Fatalf("schema default not applied, got %q", res.String("lang"))
	}

	if err := m.SaveSettings("a", map[string]any{"lang": "de"}); err != nil {
		t.Fatal(err)
	}
	res = m.Registry().Dispatch(context.Background(), hook.BeforeSend, nil)
	if res.String("lang") != "de" {
		t.Errorf("new setting not visible to running plugin, got %q", res.String("lang"))
	}

	rec, _ := store.LoadPlugin("a")
	if rec.SettingsValues == "{}" || rec.SettingsValues == "" {
		t.Error("settings not persisted")
	}
}

func TestUndeclaredProxyServiceRejected(t *testing.T) {
	m, store, _ := newTestManager(t, map[string]string{
		"https://x/a.lua": `
		res = chatraw.proxy_request{service_id="secret-api", url="https://api.example/x"}
		chatraw.storage_set("res_success", res.success)
		chatraw.storage_set("res_error", res.error)
		`,
	})
	m.InstallManifest([]byte(manifestA), "")

	raw, found, _ := store.KVGet("a", "res_success")
	if !found || raw != "false" {
		t.Errorf("undeclared service must yield success=false, got %q (found=%v)", raw, found)
	}
}

func TestParseDescriptorValidation(t *testing.T) {
	if _, err := ParseDescriptor([]byte(`{`)); err == nil {
		t.Error("bad JSON must fail")
	}
	if _, err := ParseDescriptor([]byte(`{"version":"1","main":"u"}`)); err == nil {
		t.Error("missing id must fail")
	}
	if _, err := ParseDescriptor([]byte(`{"id":"p","version":"1"}`)); err == nil {
		t.Error("missing main must fail")
	}
}

func TestManifestWithoutEnabledDefaultsToEnabled(t *testing.T) {
	m, store, _ := newTestManager(t, map[string]string{"https://x/a.lua": `x=1`})

	m.InstallManifest([]byte(manifestA), "")
	rec, _ := store.LoadPlugin("a")
	if !rec.Enabled {
		t.Error("manifest omitting enabled must install enabled")
	}

	disabled := `{"id":"b","version":"1","main":"https://x/a.lua","hooks":[],"enabled":false}`
	m.InstallManifest([]byte(disabled), "")
	rec, _ = store.LoadPlugin("b")
	if rec.Enabled {
		t.Error("manifest with enabled=false must install disabled")
	}
	if m.Loader().Loaded("b") {
		t.Error("disabled install must not load the module")
	}
}
