package mock

import (
	"context"
	"sync"
	"testing"

	"github.com/satriahrh/voicebridge/domain/repositories"
)

func TestPushAfterClose(t *testing.T) {
	b := New()
	sess, err := b.Connect(context.Background(), repositories.SessionConfig{})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	ms := b.Sessions()[0]

	if err := sess.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	// Scripted events after teardown are dropped, never a panic.
	for i := 0; i < 10; i++ {
		ms.Push(repositories.BackendEvent{Kind: repositories.EventTurnComplete})
	}
	select {
	case ev := <-ms.Events():
		t.Fatalf("event %v delivered after close", ev.Kind)
	default:
	}
}

func TestPushRacingClose(t *testing.T) {
	b := New()
	if _, err := b.Connect(context.Background(), repositories.SessionConfig{}); err != nil {
		t.Fatalf("connect: %v", err)
	}
	ms := b.Sessions()[0]

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				ms.Push(repositories.BackendEvent{Kind: repositories.EventAudioChunk})
			}
		}()
	}
	go func() {
		for range ms.Events() {
		}
	}()
	_ = ms.Close()
	wg.Wait()
}
