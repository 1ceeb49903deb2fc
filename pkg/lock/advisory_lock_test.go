package lock

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestGenerateLockID は同一入力で同一ID、異なる入力で異なるIDになることを確認します
func TestGenerateLockID(t *testing.T) {
	id1 := GenerateLockID("course-rag:document", "doc-a")
	id2 := GenerateLockID("course-rag:document", "doc-a")
	id3 := GenerateLockID("course-rag:document", "doc-b")

	assert.Equal(t, id1, id2, "same parts must produce the same lock ID")
	assert.NotEqual(t, id1, id3, "different parts must produce different lock IDs")
}

// TestGenerateLockIDNamespace は名前空間が異なれば同じキーでも衝突しないことを確認します
func TestGenerateLockIDNamespace(t *testing.T) {
	a := GenerateLockID("course-rag:document", "same-key")
	b := GenerateLockID("course-rag:collection", "same-key")
	assert.NotEqual(t, a, b)
}
