package security

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGeneratePreservesExtensionLowerCased(t *testing.T) {
	g := NewKeyGenerator()

	key := g.Generate("teacher-1", "Lesson.PDF", time.Now())

	require.True(t, strings.HasSuffix(key, ".pdf"))
	require.NotContains(t, key, "..")
}

func TestGenerateDistinctOwnersSameMillisecond(t *testing.T) {
	g := NewKeyGenerator()
	now := time.Now()

	a := g.Generate("teacher-a", "notes.pdf", now)
	b := g.Generate("teacher-b", "notes.pdf", now)

	require.NotEqual(t, a, b)
}

func TestGenerateSameOwnerSameMillisecond(t *testing.T) {
	g := NewKeyGenerator()
	now := time.Now()

	a := g.Generate("teacher-a", "notes.pdf", now)
	b := g.Generate("teacher-a", "notes.pdf", now)

	require.NotEqual(t, a, b)
}

func TestGenerateConcurrentKeysNeverCollide(t *testing.T) {
	g := NewKeyGenerator()
	now := time.Now()

	const perOwner = 50
	owners := []string{"t1", "t2", "t3", "t4"}

	var mu sync.Mutex
	seen := make(map[string]struct{}, len(owners)*perOwner)
	var wg sync.WaitGroup

	for _, owner := range owners {
		wg.Add(1)
		go func(owner string) {
			defer wg.Done()
			for i := 0; i < perOwner; i++ {
				key := g.Generate(owner, "worksheet.png", now)
				mu.Lock()
				_, dup := seen[key]
				seen[key] = struct{}{}
				mu.Unlock()
				require.False(t, dup, "duplicate key %s", key)
			}
		}(owner)
	}
	wg.Wait()

	require.Len(t, seen, len(owners)*perOwner)
}

func TestOwnerPrefixSanitised(t *testing.T) {
	require.Equal(t, "teacher1", ownerPrefix("Teacher-123456"))
	require.Equal(t, "anon", ownerPrefix("!!!"))
}
