package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"chatraw/hook"
	"chatraw/model"
	"chatraw/stream"
)

func TestSendPipelineOrderAndStreaming(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		io.WriteString(w, "{\"chat_id\":\"c1\"}\n")
		io.WriteString(w, "{\"content\":\"hel\"}\n{\"content\":\"lo\"}\n")
		io.WriteString(w, "{\"done\":true}\n")
	}))
	defer srv.Close()

	reg := hook.NewRegistry(nil)
	reg.Register(hook.TransformInput, func(ctx context.Context, args map[string]any) (hook.Result, error) {
		msg, _ := args["message"].(string)
		return hook.Handled(map[string]any{"content": strings.ToUpper(msg)}), nil
	}, "shouter", 0)
	reg.Register(hook.BeforeSend, func(ctx context.Context, args map[string]any) (hook.Result, error) {
		body, _ := args["body"].(map[string]any)
		body["web_content"] = "searched context"
		return hook.Handled(map[string]any{"body": body}), nil
	}, "searcher", 0)
	reg.Register(hook.AfterReceive, func(ctx context.Context, args map[string]any) (hook.Result, error) {
		msg, _ := args["message"].(string)
		return hook.Handled(map[string]any{"content": msg + "!"}), nil
	}, "exclaimer", 0)

	c := New(srv.URL, reg)
	msg := &model.Message{}
	chatID, err := c.Send(context.Background(), "", "hello server", SendOptions{}, msg, nil)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	if chatID != "c1" {
		t.Errorf("chat id = %q", chatID)
	}
	// transform_input ran before the request left.
	if gotBody["message"] != "HELLO SERVER" {
		t.Errorf("transform_input not applied to outgoing message: %v", gotBody["message"])
	}
	// before_send enriched the body.
	if gotBody["web_content"] != "searched context" {
		t.Errorf("before_send contribution missing: %v", gotBody["web_content"])
	}
	// after_receive ran on the assembled reply.
	if msg.Content != "hello!" {
		t.Errorf("final content = %q", msg.Content)
	}
}

func TestSendWithoutHooks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "{\"chat_id\":\"c2\"}\n{\"content\":\"plain\"}\n{\"done\":true}\n")
	}))
	defer srv.Close()

	c := New(srv.URL, nil)
	msg := &model.Message{}
	chatID, err := c.Send(context.Background(), "c2", "hi", SendOptions{}, msg, nil)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if chatID != "c2" || msg.Content != "plain" {
		t.Errorf("got chatID=%q content=%q", chatID, msg.Content)
	}
}

func TestSendSerialization(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-release
		io.WriteString(w, "{\"done\":true}\n")
	}))
	defer srv.Close()
	defer close(release)

	c := New(srv.URL, nil)

	started := make(chan struct{})
	go func() {
		msg := &model.Message{}
		close(started)
		c.Send(context.Background(), "c", "first", SendOptions{}, msg, nil)
	}()
	<-started

	// Wait for the first send to hold the slot.
	deadline := time.Now().Add(2 * time.Second)
	for !c.Sending() {
		if time.Now().After(deadline) {
			t.Fatal("first send never started")
		}
		time.Sleep(2 * time.Millisecond)
	}

	msg := &model.Message{}
	if _, err := c.Send(context.Background(), "c", "second", SendOptions{}, msg, nil); err != ErrBusy {
		t.Errorf("overlapping send: want ErrBusy, got %v", err)
	}
}

func TestCancelKeepsPartialMessage(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "{\"chat_id\":\"c3\"}\n{\"content\":\"partial\"}\n")
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-release
	}))
	defer srv.Close()
	defer close(release)

	c := New(srv.URL, nil)
	msg := &model.Message{}

	applied := make(chan struct{}, 8)
	errCh := make(chan error, 1)
	go func() {
		_, err := c.Send(context.Background(), "c3", "hi", SendOptions{}, msg, func() {
			applied <- struct{}{}
		})
		errCh <- err
	}()

	// Wait until the partial frame has been applied, then cancel.
	deadline := time.After(2 * time.Second)
	for i := 0; i < 2; i++ {
		select {
		case <-applied:
		case <-deadline:
			t.Fatal("frames never arrived")
		}
	}
	c.Cancel()

	select {
	case err := <-errCh:
		if err != stream.ErrCancelled {
			t.Errorf("want stream.ErrCancelled, got %v", err)
		}
	case <-deadline:
		t.Fatal("Send did not return after Cancel")
	}

	if msg.Content != "partial" {
		t.Errorf("partial content must be kept, got %q", msg.Content)
	}
	if c.Sending() {
		t.Error("send slot not released after cancellation")
	}
}

func TestSendServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"Message is required"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	c := New(srv.URL, nil)
	msg := &model.Message{}
	if _, err := c.Send(context.Background(), "", "", SendOptions{}, msg, nil); err == nil {
		t.Error("4xx must surface as an error")
	}
	if c.Sending() {
		t.Error("send slot not released after failure")
	}
}

func TestChatsAndMessages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/chats":
			if r.Method == http.MethodPost {
				io.WriteString(w, `{"id":"new","title":"New Chat"}`)
				return
			}
			io.WriteString(w, `[{"id":"c1","title":"Go questions"}]`)
		case "/api/chats/c1/messages":
			io.WriteString(w, `[{"id":"m1","role":"user","content":"hi"},{"id":"m2","role":"assistant","content":"hello","references":[{"content":"doc","score":0.5}]}]`)
		case "/api/chats/c1":
			if r.Method != http.MethodDelete {
				t.Errorf("expected DELETE, got %s", r.Method)
			}
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := New(srv.URL, nil)

	chats, err := c.Chats()
	if err != nil {
		t.Fatal(err)
	}
	if len(chats) != 1 || chats[0].Title != "Go questions" {
		t.Errorf("Chats: %+v", chats)
	}

	created, err := c.CreateChat()
	if err != nil {
		t.Fatal(err)
	}
	if created.ID != "new" {
		t.Errorf("CreateChat: %+v", created)
	}

	msgs, err := c.Messages("c1")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 || msgs[1].References[0].Content != "doc" {
		t.Errorf("Messages: %+v", msgs)
	}
	if msgs[0].ChatID != "c1" {
		t.Error("chat id not filled in")
	}

	if err := c.DeleteChat("c1"); err != nil {
		t.Fatal(err)
	}
}

func TestUploadDocumentProgress(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("not multipart: %v", err)
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("file part: %v", err)
		}
		defer f.Close()
		if hdr.Filename != "notes.txt" {
			t.Errorf("filename = %q", hdr.Filename)
		}

		io.WriteString(w, "{\"status\":\"chunking\",\"total\":2}\n")
		io.WriteString(w, "{\"status\":\"embedding\",\"progress\":50,\"current\":1,\"total\":2}\n")
		io.WriteString(w, "{\"status\":\"embedding\",\"progress\":100,\"current\":2,\"total\":2}\n")
		io.WriteString(w, "{\"status\":\"done\",\"filename\":\"notes.txt\"}\n")
	}))
	defer srv.Close()

	c := New(srv.URL, nil)

	var progress []stream.UploadProgress
	done := 0
	err := c.UploadDocument("notes.txt", strings.NewReader("some text"), stream.NewCancelToken(),
		func(p stream.UploadProgress) { progress = append(progress, p) },
		func() { done++ },
	)
	if err != nil {
		t.Fatalf("UploadDocument: %v", err)
	}

	if len(progress) != 4 {
		t.Fatalf("expected 4 progress frames, got %d", len(progress))
	}
	if progress[1].Status != stream.StatusEmbedding || progress[1].Current != 1 {
		t.Errorf("embedding frame: %+v", progress[1])
	}
	if done != 1 {
		t.Errorf("onDone fired %d times", done)
	}
}

func TestUploadImage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/upload/image" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		io.WriteString(w, `{"success":true,"filename":"pic.png","base64":"aGk="}`)
	}))
	defer srv.Close()

	b64, err := New(srv.URL, nil).UploadImage("pic.png", strings.NewReader("hi"))
	if err != nil {
		t.Fatal(err)
	}
	if b64 != "aGk=" {
		t.Errorf("base64 = %q", b64)
	}
}

func TestParseURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		json.NewDecoder(r.Body).Decode(&req)
		if req["url"] == "bad.example" {
			io.WriteString(w, `{"success":false,"error":"Invalid URL"}`)
			return
		}
		io.WriteString(w, `{"success":true,"content":"page text"}`)
	}))
	defer srv.Close()

	c := New(srv.URL, nil)

	content, err := c.ParseURL("https://good.example")
	if err != nil || content != "page text" {
		t.Errorf("ParseURL: content=%q err=%v", content, err)
	}

	if _, err := c.ParseURL("bad.example"); err == nil {
		t.Error("success=false must surface as an error")
	}
}

func TestParseURLHandledByPlugin(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("plugin-handled parse must not reach the backend")
	}))
	defer srv.Close()

	reg := hook.NewRegistry(nil)
	reg.Register(hook.WebSearch, func(ctx context.Context, args map[string]any) (hook.Result, error) {
		return hook.Handled(map[string]any{"results": []any{
			map[string]any{"content": "cached page"},
			map[string]any{"snippet": "second hit"},
		}}), nil
	}, "websearch-plugin", 0)

	content, err := New(srv.URL, reg).ParseURL("https://good.example")
	if err != nil || content != "cached page\nsecond hit" {
		t.Errorf("ParseURL: content=%q err=%v", content, err)
	}
}

func TestDocumentsListAndDelete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/api/documents" && r.Method == http.MethodGet:
			io.WriteString(w, `[{"id":"d1","filename":"handbook.pdf"}]`)
		case r.URL.Path == "/api/documents/d1" && r.Method == http.MethodDelete:
			io.WriteString(w, `{"success":true}`)
		default:
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	c := New(srv.URL, nil)
	docs, err := c.Documents()
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 1 || docs[0].Filename != "handbook.pdf" {
		t.Errorf("Documents: %+v", docs)
	}
	if err := c.DeleteDocument("d1"); err != nil {
		t.Fatal(err)
	}
}
