package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestReconcilerError(t *testing.T) {
	tests := []struct {
		name       string
		category   ErrorCategory
		code       ErrorCode
		message    string
		cause      error
		expectCode int
		expectText string
	}{
		{
			name:       "file error",
			category:   CategoryFile,
			code:       CodeFileNotFound,
			message:    "file not found",
			cause:      errors.New("no such file"),
			expectCode: 2,
			expectText: "file not found: no such file",
		},
		{
			name:       "parse error",
			category:   CategoryParse,
			code:       CodeInvalidFormat,
			message:    "invalid format",
			expectCode: 3,
			expectText: "invalid format",
		},
		{
			name:       "storage error",
			category:   CategoryStorage,
			code:       CodeFetchFailed,
			message:    "fetch failed",
			cause:      errors.New("database is locked"),
			expectCode: 6,
			expectText: "fetch failed: database is locked",
		},
		{
			name:       "reconciliation error",
			category:   CategoryReconciliation,
			code:       CodeUnresolvable,
			message:    "no sale record",
			expectCode: 5,
			expectText: "no sale record",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var err *ReconcilerError
			if tt.cause != nil {
				err = Wrap(tt.cause, tt.category, tt.code, tt.message)
			} else {
				err = New(tt.category, tt.code, tt.message)
			}

			if err.Category != tt.category {
				t.Errorf("expected category %s, got %s", tt.category, err.Category)
			}
			if err.Code != tt.code {
				t.Errorf("expected code %s, got %s", tt.code, err.Code)
			}
			if err.GetExitCode() != tt.expectCode {
				t.Errorf("expected exit code %d, got %d", tt.expectCode, err.GetExitCode())
			}
			if err.Error() != tt.expectText {
				t.Errorf("expected error string %q, got %q", tt.expectText, err.Error())
			}
			if tt.cause != nil && !errors.Is(err, tt.cause) {
				t.Errorf("expected error chain to contain %v", tt.cause)
			}
			if len(err.StackTrace) == 0 {
				t.Error("expected stack trace to be captured")
			}
		})
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(nil, CategoryInternal, CodeUnexpectedError, "x") != nil {
		t.Error("expected Wrap(nil) to return nil")
	}
}

func TestSpecificErrorConstructors(t *testing.T) {
	t.Run("StorageError", func(t *testing.T) {
		cause := errors.New("disk I/O error")
		err := StorageError(CodeUpdateFailed, "sales_m1_cielo", cause)

		if err.Category != CategoryStorage {
			t.Errorf("expected storage category, got %s", err.Category)
		}
		if err.Context["table"] != "sales_m1_cielo" {
			t.Errorf("expected table context, got %v", err.Context["table"])
		}
		if err.Cause != cause {
			t.Errorf("expected cause %v, got %v", cause, err.Cause)
		}
	})

	t.Run("ReconciliationError", func(t *testing.T) {
		err := ReconciliationError(CodeLookupFailed, "fetch_sales", errors.New("locked"))

		if err.Category != CategoryReconciliation {
			t.Errorf("expected reconciliation category, got %s", err.Category)
		}
		if err.Message != "fallback lookup failed during fetch_sales" {
			t.Errorf("unexpected message %q", err.Message)
		}
		if err.Context["operation"] != "fetch_sales" {
			t.Errorf("expected operation context, got %v", err.Context["operation"])
		}
	})

	t.Run("ParseError", func(t *testing.T) {
		err := ParseError(CodeInvalidData, "vendas.csv", 10, "valor_bruto", "12,3,4", nil)

		if err.Category != CategoryParse {
			t.Errorf("expected parse category, got %s", err.Category)
		}
		if err.Context["line"] != 10 {
			t.Errorf("expected line context, got %v", err.Context["line"])
		}
	})
}

func TestAsReconcilerError(t *testing.T) {
	base := New(CategoryStorage, CodeFetchFailed, "boom")
	wrapped := fmt.Errorf("outer: %w", base)

	got, ok := AsReconcilerError(wrapped)
	if !ok || got != base {
		t.Fatalf("expected to extract base error, got %v (%v)", got, ok)
	}

	plain := errors.New("plain")
	converted := WrapIfNeeded(plain, CategoryInternal, CodeUnexpectedError, "wrapped")
	if converted.Category != CategoryInternal {
		t.Errorf("expected internal category, got %s", converted.Category)
	}
	if WrapIfNeeded(wrapped, CategoryInternal, CodeUnexpectedError, "x") != base {
		t.Error("expected existing ReconcilerError to be returned unchanged")
	}
}
