package picsum

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/John-Robertt/imgpipe/internal/domain"
	"github.com/John-Robertt/imgpipe/internal/source"
)

func TestFetchPage_OffsetByPageSizeAndSynthesizeURLs(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/list" {
			http.NotFound(w, r)
			return
		}
		gotQuery = r.URL.RawQuery
		_, _ = w.Write([]byte(`[{"id":"10","author":"Paul","width":2500,"height":1667,"url":"https://unsplash.com/photos/x","download_url":"https://picsum.test/id/10/2500/1667"}]`))
	}))
	defer srv.Close()

	s := New(srv.URL)
	got, err := s.FetchPage(context.Background(), srv.Client(), source.Page{Index: 2, Size: 50, Want: 7})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if gotQuery != "page=3&limit=50" {
		t.Fatalf("分页参数应由 Index/Size 决定，实际 %q", gotQuery)
	}
	if len(got) != 1 {
		t.Fatalf("期望 1 条记录，实际 %d", len(got))
	}
	if string(got[0]["author"]) != `"Paul"` {
		t.Fatalf("原始字段应透传：%s", got[0]["author"])
	}
	if id, _ := got[0].ID(); id != "10" {
		t.Fatalf("id 不符合预期：%q", id)
	}
	if u, _ := got[0].URL(domain.QualityRaw); u != "https://picsum.test/id/10/2500/1667" {
		t.Fatalf("raw 不符合预期：%q", u)
	}
	if u, _ := got[0].URL(domain.QualitySmall); u != srv.URL+"/id/10/400/267" {
		t.Fatalf("small 不符合预期：%q", u)
	}
}

func TestFetchPage_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := New(srv.URL).FetchPage(context.Background(), srv.Client(), source.Page{Size: 10, Want: 10})
	var hs *source.HTTPStatusError
	if !errors.As(err, &hs) || hs.StatusCode != 500 {
		t.Fatalf("期望 HTTP 500 错误，实际：%v", err)
	}
}

func TestFetchPage_InvalidPageSize(t *testing.T) {
	if _, err := New("").FetchPage(context.Background(), http.DefaultClient, source.Page{Size: 101, Want: 1}); err == nil {
		t.Fatalf("期望错误，但得到 nil")
	}
}
