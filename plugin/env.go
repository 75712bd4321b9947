package plugin

import (
	"context"
	"encoding/json"
	"strings"

	lua "github.com/yuin/gopher-lua"

	"chatraw/config"
	"chatraw/gateway"
	"chatraw/hook"
	"chatraw/storage"
)

// env is the host environment handed to one plugin's Lua state. Every
// function closes over the owning plugin's id, so storage and hook
// calls are attributed correctly no matter when plugin code runs —
// during load or from a handler invoked much later.
type env struct {
	pluginID string
	desc     *Descriptor
	state    *luaState
	registry *hook.Registry
	store    *storage.Store
	gateway  *gateway.Client
}

// install exposes the chatraw module inside the plugin's state. This is
// the entire surface plugin code can reach; io/os/debug are never
// opened.
func (e *env) install() {
	e.state.registerModule("chatraw", map[string]lua.LGFunction{
		"register_hook":   e.luaRegisterHook,
		"storage_get":     e.luaStorageGet,
		"storage_set":     e.luaStorageSet,
		"storage_remove":  e.luaStorageRemove,
		"storage_clear":   e.luaStorageClear,
		"storage_get_all": e.luaStorageGetAll,
		"proxy_request":   e.luaProxyRequest,
		"proxy_upload":    e.luaProxyUpload,
		"get_setting":     e.luaGetSetting,
		"log":             e.luaLog,
	})
}

// luaRegisterHook implements chatraw.register_hook(name, priority, fn).
func (e *env) luaRegisterHook(L *lua.LState) int {
	name := L.CheckString(1)
	priority := L.CheckInt(2)
	fn := L.CheckFunction(3)

	if !e.desc.DeclaresHook(name) && config.DebugLog != nil {
		config.DebugLog.Printf("[plugin %s] registering undeclared hook %q", e.pluginID, name)
	}

	e.registry.Register(name, e.wrapHandler(fn), e.pluginID, priority)
	return 0
}

// wrapHandler adapts a Lua function into a hook handler. The argument
// map crosses into Lua as one table; a returned table with success=true
// becomes a handled result carrying the remaining fields, anything else
// is a skip.
func (e *env) wrapHandler(fn *lua.LFunction) hook.Func {
	return func(ctx context.Context, args map[string]any) (hook.Result, error) {
		e.state.mu.Lock()
		arg := goToLua(e.state.L, mapToAny(args))
		e.state.mu.Unlock()

		ret, err := e.state.callFunction(fn, arg)
		if err != nil {
			return hook.Skip(), err
		}

		table, ok := luaToGo(ret).(map[string]any)
		if !ok {
			return hook.Skip(), nil
		}
		if success, _ := table["success"].(bool); !success {
			return hook.Skip(), nil
		}
		delete(table, "success")
		return hook.Handled(table), nil
	}
}

func mapToAny(m map[string]any) any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

// luaStorageGet implements chatraw.storage_get(key [, default]).
func (e *env) luaStorageGet(L *lua.LState) int {
	key := L.CheckString(1)
	def := L.Get(2)

	raw, found, err := e.store.KVGet(e.pluginID, key)
	if err != nil || !found {
		L.Push(def)
		return 1
	}

	var v any
	if json.Unmarshal([]byte(raw), &v) != nil {
		L.Push(def)
		return 1
	}
	L.Push(goToLua(L, v))
	return 1
}

// luaStorageSet implements chatraw.storage_set(key, value) -> bool.
// Returns false when the value does not serialize or the plugin's
// storage ceiling would be exceeded; prior data is untouched either way.
func (e *env) luaStorageSet(L *lua.LState) int {
	key := L.CheckString(1)
	value := luaToGo(L.Get(2))

	raw, err := json.Marshal(value)
	if err != nil {
		L.Push(lua.LFalse)
		return 1
	}

	ok, err := e.store.KVSet(e.pluginID, key, string(raw))
	if err != nil {
		if config.DebugLog != nil {
			config.DebugLog.Printf("[plugin %s] storage_set %q: %v", e.pluginID, key, err)
		}
		L.Push(lua.LFalse)
		return 1
	}
	if !ok && config.DebugLog != nil {
		config.DebugLog.Printf("[plugin %s] storage_set %q rejected: quota exceeded", e.pluginID, key)
	}
	L.Push(lua.LBool(ok))
	return 1
}

func (e *env) luaStorageRemove(L *lua.LState) int {
	key := L.CheckString(1)
	if err := e.store.KVRemove(e.pluginID, key); err != nil && config.DebugLog != nil {
		config.DebugLog.Printf("[plugin %s] storage_remove %q: %v", e.pluginID, key, err)
	}
	return 0
}

func (e *env) luaStorageClear(L *lua.LState) int {
	if err := e.store.KVClear(e.pluginID); err != nil && config.DebugLog != nil {
		config.DebugLog.Printf("[plugin %s] storage_clear: %v", e.pluginID, err)
	}
	return 0
}

// luaStorageGetAll implements chatraw.storage_get_all() -> table.
func (e *env) luaStorageGetAll(L *lua.LState) int {
	pairs, err := e.store.KVAll(e.pluginID)
	if err != nil {
		L.Push(L.NewTable())
		return 1
	}

	t := L.NewTable()
	for k, raw := range pairs {
		var v any
		if json.Unmarshal([]byte(raw), &v) == nil {
			t.RawSetString(k, goToLua(L, v))
		}
	}
	L.Push(t)
	return 1
}

// luaProxyRequest implements chatraw.proxy_request{service_id=, url=,
// method=, headers=, body=} -> {success=, data=|error=}.
func (e *env) luaProxyRequest(L *lua.LState) int {
	t := L.CheckTable(1)

	req := gateway.ProxyRequest{
		ServiceID: lua.LVAsString(t.RawGetString("service_id")),
		URL:       lua.LVAsString(t.RawGetString("url")),
		Method:    lua.LVAsString(t.RawGetString("method")),
		Body:      luaToGo(t.RawGetString("body")),
	}
	if ht, ok := t.RawGetString("headers").(*lua.LTable); ok {
		req.Headers = make(map[string]string)
		ht.ForEach(func(k, v lua.LValue) {
			req.Headers[k.String()] = v.String()
		})
	}

	if !e.allowsService(req.ServiceID) {
		L.Push(resultToLua(L, gateway.ProxyResult{
			Success: false,
			Error:   "service_id not declared by plugin",
		}))
		return 1
	}

	L.Push(resultToLua(L, e.gateway.Request(req)))
	return 1
}

// luaProxyUpload implements chatraw.proxy_upload(content, filename,
// service_id, url [, extra_fields [, file_field_name]]).
func (e *env) luaProxyUpload(L *lua.LState) int {
	content := L.CheckString(1)
	filename := L.CheckString(2)
	serviceID := L.CheckString(3)
	url := L.CheckString(4)

	var extra map[string]string
	if et, ok := L.Get(5).(*lua.LTable); ok {
		extra = make(map[string]string)
		et.ForEach(func(k, v lua.LValue) {
			extra[k.String()] = v.String()
		})
	}
	fieldName := lua.LVAsString(L.Get(6))

	if !e.allowsService(serviceID) {
		L.Push(resultToLua(L, gateway.ProxyResult{
			Success: false,
			Error:   "service_id not declared by plugin",
		}))
		return 1
	}

	res := e.gateway.Upload(strings.NewReader(content), filename, serviceID, url, extra, fieldName)
	L.Push(resultToLua(L, res))
	return 1
}

// allowsService checks the manifest's proxy declarations.
func (e *env) allowsService(serviceID string) bool {
	for _, p := range e.desc.Proxy {
		if p.ID == serviceID {
			return true
		}
	}
	return false
}

func resultToLua(L *lua.LState, res gateway.ProxyResult) *lua.LTable {
	t := L.NewTable()
	t.RawSetString("success", lua.LBool(res.Success))
	if res.Error != "" {
		t.RawSetString("error", lua.LString(res.Error))
	}
	if res.Data != nil {
		t.RawSetString("data", goToLua(L, res.Data))
	}
	return t
}

// luaGetSetting implements chatraw.get_setting(name).
func (e *env) luaGetSetting(L *lua.LState) int {
	name := L.CheckString(1)
	L.Push(goToLua(L, e.desc.SettingValue(name)))
	return 1
}

// luaLog implements chatraw.log(msg).
func (e *env) luaLog(L *lua.LState) int {
	msg := L.CheckString(1)
	if config.DebugLog != nil {
		config.DebugLog.Printf("[plugin %s] %s", e.pluginID, msg)
	}
	return 0
}
