package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{Invalid("answer must be a string"), http.StatusBadRequest},
		{NotFound("quiz", "q1"), http.StatusNotFound},
		{Forbidden("students cannot import"), http.StatusForbidden},
		{Conflict("attempt already finalized"), http.StatusConflict},
		{fmt.Errorf("start: %w", ErrUnauthorized), http.StatusUnauthorized},
		{Transient("save responses", errors.New("connection reset")), http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		if got := HTTPStatus(c.err); got != c.want {
			t.Fatalf("HTTPStatus(%v) = %d, want %d", c.err, got, c.want)
		}
	}
}

func TestTransientKeepsKnownKinds(t *testing.T) {
	err := Transient("get quiz", NotFound("quiz", "x"))
	if errors.Is(err, ErrTransient) {
		t.Fatalf("expected NotFound to pass through unchanged, got %v", err)
	}
	if Transient("noop", nil) != nil {
		t.Fatalf("expected nil for nil error")
	}
}

func TestWriteHidesInternalDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	Write(rec, Transient("save responses", errors.New("dial tcp 10.0.0.5:5432")))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "10.0.0.5") {
		t.Fatalf("leaked storage detail: %s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	Write(rec, NotFound("quiz", "q1"))
	if rec.Code != http.StatusNotFound || !strings.Contains(rec.Body.String(), `quiz \"q1\": not found`) {
		t.Fatalf("unexpected response %d %s", rec.Code, rec.Body.String())
	}
}
