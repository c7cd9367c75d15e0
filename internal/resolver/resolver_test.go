package resolver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"ark-mcp/internal/filecontent"
	"ark-mcp/internal/mimetype"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// fakeFiles serves a fixed set of file ids and counts lookups.
type fakeFiles struct {
	files map[string]filecontent.Content
	calls atomic.Int32
}

func (f *fakeFiles) Fetch(ctx context.Context, id string) ([]byte, string, bool) {
	f.calls.Add(1)
	c, ok := f.files[id]
	if !ok {
		return nil, "", false
	}
	return c.Data, c.MIMEType, true
}

func newFiles() *fakeFiles {
	return &fakeFiles{files: map[string]filecontent.Content{
		"file-1": {Data: []byte("one"), MIMEType: "image/jpg"},
		"file-2": {Data: []byte("two"), MIMEType: "text/plain"},
		"nested": {Data: []byte("nested"), MIMEType: "image/webp"},
	}}
}

func dataURI(data, mime string) string {
	return mimetype.DataURI([]byte(data), mime)
}

type handle struct {
	ID       string `json:"id"`
	Blob     []byte
	MimeType string
	URL      string
}

type methodHandle struct{ id string }

func (h methodHandle) FileID() string { return h.id }

type ptrHandle struct{ id string }

func (h *ptrHandle) FileID() string { return h.id }

type panickyHandle struct{}

func (panickyHandle) URL() string { panic("handle closed") }

func TestResolve(t *testing.T) {
	ctx := context.Background()
	r := New(newFiles(), nil)

	tests := []struct {
		name string
		in   any
		want []string
	}{
		{name: "nil", in: nil, want: nil},
		{name: "empty string", in: "   ", want: nil},
		{name: "https url passes through", in: " https://example.com/a.png ", want: []string{"https://example.com/a.png"}},
		{name: "data uri passes through", in: "data:image/png;base64,AAAA", want: []string{"data:image/png;base64,AAAA"}},
		{name: "non image data uri is a file id", in: "data:text/plain;base64,AAAA", want: nil},
		{name: "file id", in: "file-1", want: []string{dataURI("one", "image/jpeg")}},
		{name: "non image mime is coerced", in: "file-2", want: []string{dataURI("two", "image/png")}},
		{name: "unknown file id", in: "nope", want: nil},
		{name: "ftp url is not canonical", in: "ftp://example.com/a.png", want: nil},
		{name: "broken json", in: `{"url": `, want: nil},
		{name: "json object", in: `{"url":"https://example.com/j.png"}`, want: []string{"https://example.com/j.png"}},
		{
			name: "list keeps order and drops unresolvable",
			in:   []any{"file-1", "nope", "https://example.com/b.png", nil, 42.0},
			want: []string{dataURI("one", "image/jpeg"), "https://example.com/b.png"},
		},
		{
			name: "remote_url with url",
			in:   map[string]any{"transfer_method": "remote_url", "url": "https://example.com/r.png"},
			want: []string{"https://example.com/r.png"},
		},
		{
			name: "remote_url does not fall back to file id",
			in:   map[string]any{"transfer_method": "remote_url", "url": "not-a-url", "id": "file-1"},
			want: nil,
		},
		{
			name: "local_file uses id",
			in:   map[string]any{"transfer_method": "local_file", "related_id": "file-1", "url": "https://example.com/ignored.png"},
			want: []string{dataURI("one", "image/jpeg")},
		},
		{
			name: "local_file uses nested value id",
			in:   map[string]any{"transfer_method": "local_file", "value": map[string]any{"upload_file_id": "nested"}},
			want: []string{dataURI("nested", "image/webp")},
		},
		{
			name: "no transfer method prefers canonical url",
			in:   map[string]any{"remote_url": "https://example.com/remote.png", "id": "file-1"},
			want: []string{"https://example.com/remote.png"},
		},
		{
			name: "no transfer method recurses into value",
			in:   map[string]any{"value": map[string]any{"url": "https://example.com/v.png"}, "id": "file-1"},
			want: []string{"https://example.com/v.png"},
		},
		{
			name: "no transfer method falls back to file id",
			in:   map[string]any{"file_id": " file-1 "},
			want: []string{dataURI("one", "image/jpeg")},
		},
		{
			name: "mapping with nothing usable",
			in:   map[string]any{"name": "cat.png", "url": "relative/path.png"},
			want: nil,
		},
		{name: "empty mapping", in: map[string]any{}, want: nil},
		{
			name: "opaque struct blob",
			in:   handle{Blob: []byte("blob"), MimeType: "IMAGE/GIF"},
			want: []string{dataURI("blob", "image/gif")},
		},
		{
			name: "opaque struct id beats blob",
			in:   &handle{ID: "file-1", Blob: []byte("blob")},
			want: []string{dataURI("one", "image/jpeg")},
		},
		{
			name: "opaque struct unknown id falls through to blob",
			in:   &handle{ID: "nope", Blob: []byte("blob")},
			want: []string{dataURI("blob", "image/png")},
		},
		{
			name: "opaque method handle",
			in:   methodHandle{id: "file-1"},
			want: []string{dataURI("one", "image/jpeg")},
		},
		{name: "opaque nil pointer", in: (*handle)(nil), want: nil},
		{name: "opaque typed nil with pointer method", in: (*ptrHandle)(nil), want: nil},
		{name: "opaque pointer method handle", in: &ptrHandle{id: "file-1"}, want: []string{dataURI("one", "image/jpeg")}},
		{name: "opaque panicking accessor", in: panickyHandle{}, want: nil},
		{name: "opaque string map id", in: map[string]string{"id": "file-1"}, want: []string{dataURI("one", "image/jpeg")}},
		{name: "opaque int keyed map", in: map[int]string{1: "file-1"}, want: nil},
		{name: "opaque number", in: 3.5, want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := r.Resolve(ctx, FromValue(tt.in))
			if len(tt.want) == 0 {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolve_RemoteURLSkipsFileLookup(t *testing.T) {
	files := newFiles()
	r := New(files, nil)

	got := r.Resolve(context.Background(), Mapping{"transfer_method": "remote_url", "url": "not-a-url", "id": "file-1"})
	assert.Empty(t, got)
	assert.Equal(t, int32(0), files.calls.Load())
}

func TestResolve_RelativeURLTriesBasesInOrder(t *testing.T) {
	var hits []string
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits = append(hits, "bad")
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer bad.Close()
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits = append(hits, "good:"+r.URL.Path)
		w.Header().Set("Content-Type", "image/jpg; q=1")
		_, _ = w.Write([]byte("remote"))
	}))
	defer good.Close()

	r := New(nil, []string{bad.URL + "/", good.URL})
	got := r.Resolve(context.Background(), Mapping{
		"transfer_method": "local_file",
		"id":              "unknown",
		"url":             "/files/abc/file-preview",
	})

	require.Len(t, got, 1)
	assert.Equal(t, dataURI("remote", "image/jpeg"), got[0])
	assert.Equal(t, []string{"bad", "good:/files/abc/file-preview"}, hits)
}

func TestResolve_RelativeURLWithoutBases(t *testing.T) {
	r := New(nil, nil)
	got := r.Resolve(context.Background(), Mapping{"transfer_method": "local_file", "url": "/files/x"})
	assert.Empty(t, got)
}

func TestResolve_OpaqueAbsoluteURLIsFetched(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write([]byte("bytes"))
	}))
	defer srv.Close()

	r := New(nil, nil, WithHTTPClient(srv.Client()))
	got := r.Resolve(context.Background(), Opaque{Value: handle{URL: srv.URL + "/img"}})
	assert.Equal(t, []string{dataURI("bytes", "image/png")}, got)
}

func TestResolve_OpaqueStringMapURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/files/x", r.URL.Path)
		w.Header().Set("Content-Type", "image/webp")
		_, _ = w.Write([]byte("webp"))
	}))
	defer srv.Close()

	r := New(nil, []string{srv.URL}, WithHTTPClient(srv.Client()))
	got := r.Resolve(context.Background(), FromValue(map[string]string{"url": "/files/x"}))
	assert.Equal(t, []string{dataURI("webp", "image/webp")}, got)
}

func TestResolve_FetchSizeLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("0123456789"))
	}))
	defer srv.Close()

	in := Mapping{"transfer_method": "local_file", "url": srv.URL + "/big.png"}

	r := New(nil, nil, WithHTTPClient(srv.Client()), WithMaxFetchBytes(10))
	assert.Equal(t, []string{dataURI("0123456789", "image/png")}, r.Resolve(context.Background(), in))

	r = New(nil, nil, WithHTTPClient(srv.Client()), WithMaxFetchBytes(9))
	assert.Empty(t, r.Resolve(context.Background(), in))
}

func TestFirst_StopsEarly(t *testing.T) {
	files := newFiles()
	r := New(files, nil)

	ref, ok := r.First(context.Background(), FromValue([]any{"nope", "file-1", "file-2"}))
	require.True(t, ok)
	assert.Equal(t, dataURI("one", "image/jpeg"), ref)
	assert.Equal(t, int32(2), files.calls.Load())

	_, ok = r.First(context.Background(), nil)
	assert.False(t, ok)
}

func TestFromValue(t *testing.T) {
	assert.Nil(t, FromValue(nil))
	assert.Equal(t, Str("x"), FromValue("x"))
	assert.Equal(t, Seq{Str("a"), Str("b")}, FromValue([]string{"a", "b"}))
	assert.Equal(t, Seq{Mapping{"a": 1}}, FromValue([]map[string]any{{"a": 1}}))
	assert.Equal(t, Mapping{"k": "v"}, FromValue(map[string]any{"k": "v"}))
	assert.Equal(t, Opaque{Value: true}, FromValue(true))
	assert.Equal(t, Str("kept"), FromValue(Str("kept")))
}

func TestIsCanonical(t *testing.T) {
	assert.True(t, IsCanonical("http://a"))
	assert.True(t, IsCanonical(" HTTPS://A/b "))
	assert.True(t, IsCanonical("DATA:IMAGE/png;base64,xx"))
	assert.False(t, IsCanonical("/relative"))
	assert.False(t, IsCanonical("file-id"))
	assert.False(t, IsCanonical("data:text/plain,hi"))
	assert.False(t, IsCanonical("%zz://bad"))
}

var urlGen = rapid.Custom(func(t *rapid.T) string {
	scheme := rapid.SampledFrom([]string{"http", "https"}).Draw(t, "scheme")
	host := rapid.StringMatching(`[a-z]{1,12}\.(com|net|org)`).Draw(t, "host")
	path := rapid.StringMatching(`(/[a-zA-Z0-9_.-]{1,10}){0,3}`).Draw(t, "path")
	return scheme + "://" + host + path
})

var dataURIGen = rapid.Custom(func(t *rapid.T) string {
	sub := rapid.SampledFrom([]string{"png", "jpeg", "webp", "gif"}).Draw(t, "sub")
	payload := rapid.StringMatching(`[A-Za-z0-9+/]{0,40}={0,2}`).Draw(t, "payload")
	return "data:image/" + sub + ";base64," + payload
})

var refGen = rapid.OneOf(urlGen, dataURIGen)

func TestProperty_CanonicalStringsPassThrough(t *testing.T) {
	r := New(newFiles(), nil)
	rapid.Check(t, func(t *rapid.T) {
		ref := refGen.Draw(t, "ref")
		got := r.Resolve(context.Background(), Str(ref))
		if len(got) != 1 || got[0] != ref {
			t.Fatalf("Resolve(%q) = %v", ref, got)
		}
	})
}

// mappingGen draws file-variable style objects mixing canonical urls,
// junk urls, known and unknown file ids.
var mappingGen = rapid.Custom(func(t *rapid.T) map[string]any {
	m := map[string]any{}
	if rapid.Bool().Draw(t, "has_method") {
		m["transfer_method"] = rapid.SampledFrom([]string{"remote_url", "local_file", "other"}).Draw(t, "method")
	}
	if rapid.Bool().Draw(t, "has_url") {
		m["url"] = rapid.OneOf(urlGen, rapid.Just("not-a-url")).Draw(t, "url")
	}
	if rapid.Bool().Draw(t, "has_id") {
		m[rapid.SampledFrom(fileIDKeys).Draw(t, "id_key")] = rapid.SampledFrom([]string{"file-1", "file-2", "nope"}).Draw(t, "id")
	}
	return m
})

func TestProperty_JSONStringEqualsParsedObject(t *testing.T) {
	r := New(newFiles(), nil)
	rapid.Check(t, func(t *rapid.T) {
		m := mappingGen.Draw(t, "mapping")
		encoded, err := json.Marshal(m)
		if err != nil {
			t.Fatal(err)
		}

		fromString := r.Resolve(context.Background(), Str(encoded))
		fromObject := r.Resolve(context.Background(), Mapping(m))
		if !equalRefs(fromString, fromObject) {
			t.Fatalf("json %s: string=%v object=%v", encoded, fromString, fromObject)
		}
	})
}

func TestProperty_ListIsConcatenation(t *testing.T) {
	r := New(newFiles(), nil)
	itemGen := rapid.OneOf(
		refGen.AsAny(),
		rapid.SampledFrom([]string{"file-1", "file-2", "nope", "", "{broken"}).AsAny(),
		mappingGen.AsAny(),
	)

	rapid.Check(t, func(t *rapid.T) {
		items := rapid.SliceOf(itemGen).Draw(t, "items")

		var want []string
		for _, item := range items {
			want = append(want, r.Resolve(context.Background(), FromValue(item))...)
		}
		got := r.Resolve(context.Background(), FromValue(items))
		if !equalRefs(got, want) {
			t.Fatalf("list=%v concat=%v", got, want)
		}
	})
}

var videoScan = Scan{
	Keys:   []string{"reference_image_url", "image"},
	Legacy: []string{"reference_images"},
	Skip:   []string{"prompt", "ratio"},
}

func TestCollect(t *testing.T) {
	one := dataURI("one", "image/jpeg")
	two := dataURI("two", "image/png")

	tests := []struct {
		name   string
		params map[string]any
		want   []string
	}{
		{
			name: "keys then legacy then sorted rest",
			params: map[string]any{
				"image":               "file-1",
				"reference_image_url": "https://a/x.png",
				"reference_images":    []any{"https://b/y.png", "file-1"},
				"zeta":                "file-2",
				"alpha":               "https://c/z.png",
				"prompt":              "https://skip/p.png",
			},
			want: []string{"https://a/x.png", one, "https://b/y.png", "https://c/z.png", two},
		},
		{
			name:   "legacy non array is left to the fallback scan",
			params: map[string]any{"reference_images": "https://b/y.png", "image": "file-1", "a": "file-2"},
			want:   []string{one, two, "https://b/y.png"},
		},
		{
			name:   "skipped keys are never resolved",
			params: map[string]any{"prompt": "https://a/x.png", "ratio": "file-1"},
			want:   nil,
		},
		{
			name: "duplicates keep the first occurrence",
			params: map[string]any{
				"image":            []any{"file-1", "https://a/x.png", "file-1"},
				"reference_images": []any{"file-2", "https://a/x.png"},
				"other":            map[string]any{"url": "https://a/x.png"},
			},
			want: []string{one, "https://a/x.png", two},
		},
		{name: "no params", params: map[string]any{}, want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := New(newFiles(), nil).Collect(context.Background(), tt.params, videoScan)
			if len(tt.want) == 0 {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCollectFirst(t *testing.T) {
	files := newFiles()
	r := New(files, nil)

	ref, ok := r.CollectFirst(context.Background(), map[string]any{
		"reference_image_url": "nope",
		"image":               "file-1",
		"zeta":                "file-2",
	}, videoScan)
	require.True(t, ok)
	assert.Equal(t, dataURI("one", "image/jpeg"), ref)
	assert.Equal(t, int32(2), files.calls.Load(), "stops after the first image")

	_, ok = r.CollectFirst(context.Background(), map[string]any{"prompt": "https://a/x.png"}, videoScan)
	assert.False(t, ok)
}

func TestDedup(t *testing.T) {
	assert.Equal(t, []string{"r1", "r2", "r3"}, Dedup([]string{"r1", "r2", "r1", "r3"}))
	assert.Equal(t, []string{"r1"}, Dedup([]string{"r1", "r1", "r1"}))
	assert.Empty(t, Dedup(nil))
}

func TestProperty_DedupIsStable(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		refs := rapid.SliceOf(rapid.SampledFrom([]string{"a", "b", "c", "d"})).Draw(t, "refs")
		got := Dedup(refs)

		seen := map[string]bool{}
		var want []string
		for _, ref := range refs {
			if !seen[ref] {
				seen[ref] = true
				want = append(want, ref)
			}
		}
		if !equalRefs(got, want) {
			t.Fatalf("dedup(%v)=%v want %v", refs, got, want)
		}
	})
}

func equalRefs(a, b []string) bool {
	return strings.Join(a, "\n") == strings.Join(b, "\n") && len(a) == len(b)
}
