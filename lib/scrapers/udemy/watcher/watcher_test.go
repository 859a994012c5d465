package watcher

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDedupe(t *testing.T) {
	require.Equal(t,
		[]string{"a", "b", "c"},
		dedupe([]string{"a", "b", "a", "", "c", "b"}))
	require.Empty(t, dedupe(nil))
}

func TestReadLinksFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "links.txt")
	err := os.WriteFile(path, []byte(`
# claimed from the newsletter
https://www.udemy.com/course/learn-go-from-scratch/

https://www.udemy.com/course-dashboard-redirect/?course_id=12345
`), 0644)
	require.NoError(t, err)

	links, err := ReadLinksFile(path)
	require.NoError(t, err)
	require.Equal(t, []string{
		"https://www.udemy.com/course/learn-go-from-scratch/",
		"https://www.udemy.com/course-dashboard-redirect/?course_id=12345",
	}, links)

	_, err = ReadLinksFile(filepath.Join(t.TempDir(), "missing.txt"))
	require.Error(t, err)
}
