package run

import (
	"context"
	"runtime"
	"testing"

	"github.com/John-Robertt/imgpipe/internal/domain"
)

func TestWorkers(t *testing.T) {
	cases := []struct {
		mode domain.Mode
		in   int
		want int
	}{
		{domain.ModeSerial, 8, 1},
		{domain.ModeParallel, 3, 3},
		{domain.ModeParallel, 1000, MaxWorkers},
	}
	for _, tc := range cases {
		if got := Workers(tc.mode, tc.in); got != tc.want {
			t.Fatalf("Workers(%s,%d)=%d, want %d", tc.mode, tc.in, got, tc.want)
		}
	}
	want := runtime.NumCPU()
	if want > MaxWorkers {
		want = MaxWorkers
	}
	if got := Workers(domain.ModeParallel, 0); got != want {
		t.Fatalf("Workers(parallel,0)=%d, want %d", got, want)
	}
}

func TestExecute_ItemsSortedAndCounted(t *testing.T) {
	ids := []string{"c", "a", "", "b"}
	tasks := make([]task, 0, len(ids))
	for _, id := range ids {
		id := id
		tasks = append(tasks, func(ctx context.Context) domain.ItemResult {
			if id == "" {
				return syntheticFailed(domain.ErrCodeInvalidRecord, "x")
			}
			return domain.ItemResult{ID: id, Status: domain.StatusOK}
		})
	}

	rep := execute(context.Background(), "s", domain.ModeParallel, 4, tasks, nil)
	got := make([]string, 0, len(rep.Items))
	for _, it := range rep.Items {
		got = append(got, it.ID)
	}
	want := []string{"a", "b", "c", ""}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("items 顺序=%v，期望 %v", got, want)
		}
	}
	if rep.Summary.Succeeded != 3 || rep.Summary.Failed != 1 {
		t.Fatalf("summary 不符合预期：%+v", rep.Summary)
	}
}

func TestExecute_EmptyDefaultsToParallel(t *testing.T) {
	rep := execute(context.Background(), "s", "", 2, nil, nil)
	if rep.Mode != domain.ModeParallel || rep.Summary.Total != 0 || rep.Items == nil {
		t.Fatalf("空任务的 report 不符合预期：%+v", rep)
	}
}
