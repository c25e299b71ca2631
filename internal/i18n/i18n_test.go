package i18n

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func initLang(t *testing.T, lang string) context.Context {
	t.Helper()
	if err := Init(lang); err != nil {
		t.Fatalf("Init(%q): %v", lang, err)
	}
	loc := NewLocalizer(lang)
	return WithLocalizer(context.Background(), loc)
}

func TestTranslateEnglish(t *testing.T) {
	ctx := initLang(t, "en")

	got := T(ctx, "TaskNotFound")
	if got != "Task not found" {
		t.Errorf("T(TaskNotFound) = %q, want 'Task not found'", got)
	}
}

func TestTranslateChinese(t *testing.T) {
	ctx := initLang(t, "zh")

	got := T(ctx, "TaskNotFound")
	if got != "任务不存在" {
		t.Errorf("T(TaskNotFound) = %q, want '任务不存在'", got)
	}
}

func TestTemplateDataTranslation(t *testing.T) {
	ctx := initLang(t, "en")

	got := Td(ctx, "ReferenceNotFound", map[string]any{"Unit": "R200", "Session": 3})
	if got != "reference not found for R200/3" {
		t.Errorf("Td(ReferenceNotFound) = %q", got)
	}
}

func TestMissingKey(t *testing.T) {
	ctx := initLang(t, "en")

	got := T(ctx, "NonExistentKey")
	if got != "NonExistentKey" {
		t.Errorf("T(NonExistentKey) = %q, want 'NonExistentKey'", got)
	}
}

func TestInvalidLanguage(t *testing.T) {
	if err := Init("not a language!"); err == nil {
		t.Error("expected error for invalid language tag")
	}
}

func TestMiddlewarePrefersAcceptLanguage(t *testing.T) {
	if err := Init("en"); err != nil {
		t.Fatalf("Init: %v", err)
	}

	var got string
	h := Middleware("en")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = T(r.Context(), "TaskNotFound")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept-Language", "zh-CN,zh;q=0.9")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if got != "任务不存在" {
		t.Errorf("with Accept-Language zh got %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	h.ServeHTTP(httptest.NewRecorder(), req)
	if got != "Task not found" {
		t.Errorf("without Accept-Language got %q", got)
	}
}

func TestFixedLanguage(t *testing.T) {
	if err := Init("en"); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if got := Tl("zh", "QueueFull", nil); got != "评测队列已满，请稍后重新提交" {
		t.Errorf("Tl(zh, QueueFull) = %q", got)
	}
	if got := Tl("en", "EvaluationFailed", map[string]any{"Error": "disk full"}); got != "evaluation failed: disk full" {
		t.Errorf("Tl(en, EvaluationFailed) = %q", got)
	}
}
