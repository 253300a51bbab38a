package memory

import (
	"context"
	"testing"
	"time"

	"study-flow-service/internal/domain"
)

func TestLessonRepositoryCaches(t *testing.T) {
	loader := &countingLoader{
		LessonLoader: NewStaticLessonLoader(map[string]domain.Lesson{
			"lesson-1": sampleLesson(),
		}),
	}
	repo := NewLessonRepository(loader, time.Minute)

	if _, err := repo.GetLesson(context.Background(), "lesson-1"); err != nil {
		t.Fatalf("get lesson: %v", err)
	}
	if loader.calls != 1 {
		t.Fatalf("expected loader once, got %d", loader.calls)
	}

	if _, err := repo.GetLesson(context.Background(), "lesson-1"); err != nil {
		t.Fatalf("get lesson 2: %v", err)
	}
	if loader.calls != 1 {
		t.Fatalf("expected cache hit, loader calls %d", loader.calls)
	}
}

func TestStaticLessonLoaderMissing(t *testing.T) {
	loader := NewStaticLessonLoader(nil)
	if _, err := loader.LoadLesson(context.Background(), "missing"); err != domain.ErrLessonNotFound {
		t.Fatalf("expected lesson not found, got %v", err)
	}
}

type countingLoader struct {
	LessonLoader
	calls int
}

func (l *countingLoader) LoadLesson(ctx context.Context, lessonID string) (domain.Lesson, error) {
	l.calls++
	return l.LessonLoader.LoadLesson(ctx, lessonID)
}

func sampleLesson() domain.Lesson {
	return domain.Lesson{
		ID: "lesson-1",
		Questions: []domain.LessonQuestion{
			{ID: "q1", Prompt: "How many ways can 4 students line up?", Answer: "24"},
		},
	}
}
