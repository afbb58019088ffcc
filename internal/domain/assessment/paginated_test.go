package assessment

import "testing"

func TestPaginateReturnsExpectedWindow(t *testing.T) {
	for total := 0; total <= 23; total++ {
		for _, size := range []int{1, 5, 10, 50} {
			for page := 1; page <= 6; page++ {
				p, start, end := Paginate(total, page, size)
				want := total - (page-1)*size
				if want < 0 {
					want = 0
				}
				if want > size {
					want = size
				}
				if end-start != want {
					t.Fatalf("total=%d page=%d size=%d: got %d items, want %d", total, page, size, end-start, want)
				}
				wantPages := (total + size - 1) / size
				if p.TotalPages != wantPages {
					t.Fatalf("total=%d size=%d: got %d pages, want %d", total, size, p.TotalPages, wantPages)
				}
				if p.HasPreviousPage != (page > 1) {
					t.Fatalf("page %d: unexpected hasPreviousPage", page)
				}
				if p.HasNextPage != (page < wantPages) {
					t.Fatalf("page %d of %d: unexpected hasNextPage", page, wantPages)
				}
			}
		}
	}
}
