package admin

import (
	"testing"
	"time"

	"github.com/hitoshi/shipkit/internal/model"
)

func usersResource(t *testing.T) Resource {
	t.Helper()
	res, ok := DefaultRegistry().Get("users")
	if !ok {
		t.Fatal("users resource not registered")
	}
	return res
}

func fieldErrorFor(errs []model.FieldError, field string) string {
	for _, e := range errs {
		if e.Field == field {
			return e.Message
		}
	}
	return ""
}

func TestCleanFormData_CoercesAndDropsUnknown(t *testing.T) {
	res := usersResource(t)

	values, errs := CleanFormData(res, map[string]string{
		"email":      "  Alice@Example.COM ",
		"username":   "<b>alice</b>",
		"role":       "moderator",
		"is_active":  "on",
		"id":         "attacker-chosen",
		"created_at": "2020-01-01",
		"csrf_token": "x",
		"unknown":    "y",
	})
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %+v", errs)
	}

	want := map[string]any{
		"email":     "alice@example.com",
		"username":  "alice",
		"role":      "moderator",
		"is_active": true,
	}
	if len(values) != len(want) {
		t.Fatalf("values = %#v, want %#v", values, want)
	}
	for k, v := range want {
		if values[k] != v {
			t.Errorf("values[%q] = %#v, want %#v", k, values[k], v)
		}
	}
}

func TestCleanFormData_RequiredAndInvalid(t *testing.T) {
	res := usersResource(t)

	_, errs := CleanFormData(res, map[string]string{
		"email":     "not-an-email",
		"role":      "root",
		"is_active": "maybe",
	})

	if fieldErrorFor(errs, "email") == "" {
		t.Error("expected email error")
	}
	if fieldErrorFor(errs, "username") == "" {
		t.Error("expected username required error")
	}
	if fieldErrorFor(errs, "role") == "" {
		t.Error("expected role option error")
	}
	if fieldErrorFor(errs, "is_active") == "" {
		t.Error("expected bool error")
	}
}

// タグだけの値は除去後に空になり、必須エラーになる
func TestCleanFormData_MarkupOnlyValueIsEmpty(t *testing.T) {
	res, _ := DefaultRegistry().Get("teams")

	_, errs := CleanFormData(res, map[string]string{"name": "<script>x</script>"})
	if fieldErrorFor(errs, "name") == "" {
		t.Errorf("errs = %+v, want name error", errs)
	}
}

func TestCleanForm_PartialAllowsMissingRequired(t *testing.T) {
	res, _ := DefaultRegistry().Get("subscriptions")

	values, errs := cleanForm(res, map[string]string{
		"status":             "past_due",
		"current_period_end": "2025-07-01T09:30",
	}, true)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %+v", errs)
	}
	if values["status"] != "past_due" {
		t.Errorf("status = %#v", values["status"])
	}
	want := time.Date(2025, 7, 1, 9, 30, 0, 0, time.UTC)
	if got, ok := values["current_period_end"].(time.Time); !ok || !got.Equal(want) {
		t.Errorf("current_period_end = %#v, want %v", values["current_period_end"], want)
	}
	if _, ok := values["plan"]; ok {
		t.Error("plan should not be set when not submitted")
	}
}

func TestCleanForm_PartialEmptyValues(t *testing.T) {
	res, _ := DefaultRegistry().Get("subscriptions")

	values, errs := cleanForm(res, map[string]string{
		"plan":               "",
		"current_period_end": "",
	}, true)

	if fieldErrorFor(errs, "plan") == "" {
		t.Error("submitting an empty required field should fail")
	}
	if v, ok := values["current_period_end"]; !ok || v != nil {
		t.Errorf("current_period_end = %#v, want explicit nil", v)
	}
}

func TestCleanFormData_Int(t *testing.T) {
	res := Resource{
		Name:  "widgets",
		Table: "widgets",
		Fields: []Field{
			{Name: "id"},
			{Name: "quantity", Type: FieldInt, Editable: true},
		},
	}

	values, errs := CleanFormData(res, map[string]string{"quantity": "42"})
	if len(errs) != 0 || values["quantity"] != 42 {
		t.Errorf("values = %#v, errs = %+v", values, errs)
	}

	_, errs = CleanFormData(res, map[string]string{"quantity": "4.2"})
	if fieldErrorFor(errs, "quantity") == "" {
		t.Error("expected int error")
	}
}
