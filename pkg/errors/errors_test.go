package errors

import (
	stderrors "errors"
	"net/http"
	"testing"
)

func TestWrapPreservesCause(t *testing.T) {
	cause := stderrors.New("connection refused")
	err := Wrap(CodeDependency, cause, "processor unavailable")

	if !stderrors.Is(err, cause) {
		t.Fatal("expected wrapped cause to survive errors.Is")
	}
	if err.Code() != CodeDependency {
		t.Fatalf("expected %s, got %s", CodeDependency, err.Code())
	}
	if err.Message() != "processor unavailable" {
		t.Fatalf("unexpected message %q", err.Message())
	}
}

func TestAsExtractsThroughWrapping(t *testing.T) {
	inner := New(CodeUsageLimit, "hard limit reached")
	wrapped := Wrap(CodeInternal, inner, "record usage")

	// The outermost typed error wins.
	typed := As(wrapped)
	if typed == nil || typed.Code() != CodeInternal {
		t.Fatalf("expected outer code, got %+v", typed)
	}

	if As(stderrors.New("plain")) != nil {
		t.Fatal("expected nil for untyped error")
	}
}

func TestCodeOfDefaultsToInternal(t *testing.T) {
	if got := CodeOf(stderrors.New("plain")); got != CodeInternal {
		t.Fatalf("expected %s, got %s", CodeInternal, got)
	}
	if got := CodeOf(New(CodeNotFound, "missing")); got != CodeNotFound {
		t.Fatalf("expected %s, got %s", CodeNotFound, got)
	}
}

func TestMetadataHTTPMapping(t *testing.T) {
	cases := []struct {
		code   Code
		status int
	}{
		{CodeValidation, http.StatusBadRequest},
		{CodeUnauthorized, http.StatusUnauthorized},
		{CodePaymentRequired, http.StatusPaymentRequired},
		{CodeNotFound, http.StatusNotFound},
		{CodeConflict, http.StatusConflict},
		{CodeStateConflict, http.StatusUnprocessableEntity},
		{CodeUsageLimit, http.StatusTooManyRequests},
		{CodeInternal, http.StatusInternalServerError},
		{CodeDependency, http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		if got := MetadataFor(tc.code).HTTPStatus; got != tc.status {
			t.Fatalf("MetadataFor(%s).HTTPStatus = %d, want %d", tc.code, got, tc.status)
		}
	}
}

func TestWithDetailsSurfacesOnlyWhenAllowed(t *testing.T) {
	err := New(CodeValidation, "validation failed").WithDetails(map[string]string{"plan_id": "is required"})
	if err.Details() == nil {
		t.Fatal("expected details to be attached")
	}
	if !MetadataFor(CodeValidation).DetailsAllowed {
		t.Fatal("validation details must be exposable")
	}
	if MetadataFor(CodeInternal).DetailsAllowed {
		t.Fatal("internal details must stay private")
	}
}
