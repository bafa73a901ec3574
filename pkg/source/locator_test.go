package source

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseRepository(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  RepositoryRef
	}{
		{name: "plain", input: "https://github.com/octo/lab-1", want: RepositoryRef{Owner: "octo", Repo: "lab-1"}},
		{name: "git suffix", input: "https://github.com/octo/lab-1.git", want: RepositoryRef{Owner: "octo", Repo: "lab-1"}},
		{name: "deep link", input: "https://github.com/octo/lab-1/tree/main/src", want: RepositoryRef{Owner: "octo", Repo: "lab-1"}},
		{name: "no scheme", input: "github.com/octo/lab-1", want: RepositoryRef{Owner: "octo", Repo: "lab-1"}},
		{name: "double slashes", input: "https://github.com//octo//lab-1/", want: RepositoryRef{Owner: "octo", Repo: "lab-1"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ref, err := ParseRepository(tc.input)
			require.NoError(t, err)
			require.Equal(t, tc.want, ref)
		})
	}
}

func TestParseRepositoryRejectsShortPaths(t *testing.T) {
	for _, input := range []string{"", "https://github.com/", "https://github.com/octo", "https://github.com/octo/.git"} {
		_, err := ParseRepository(input)
		require.Error(t, err, input)
		require.True(t, errors.Is(err, ErrInvalidReference), input)
	}
}

func TestParseNotebookID(t *testing.T) {
	require.Equal(t, "1AbC-d_9", ParseNotebookID("https://colab.research.google.com/drive/1AbC-d_9?usp=sharing"))
	require.Equal(t, "1XyZ", ParseNotebookID("https://drive.google.com/file/d/1XyZ/view?usp=sharing"))
	require.Equal(t, "https://example.com/nb.ipynb", ParseNotebookID(" https://example.com/nb.ipynb "))
}

func TestURLKindHelpers(t *testing.T) {
	require.True(t, IsGitHubURL("https://GitHub.com/octo/lab"))
	require.False(t, IsGitHubURL("https://gitlab.com/octo/lab"))
	require.True(t, IsNotebookURL("https://colab.research.google.com/drive/abc"))
	require.True(t, IsNotebookURL("https://drive.google.com/file/d/abc/view"))
	require.False(t, IsNotebookURL("https://github.com/octo/lab"))
}
