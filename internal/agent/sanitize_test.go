package agent

import "testing"

func TestSanitizeReply(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain text", "All done.", "All done."},
		{"empty", "", ""},
		{"whitespace only", "  \n\t ", ""},
		{
			name: "thinking tag stripped",
			in:   "<thinking>let me see</thinking>The result is 42.",
			want: "The result is 42.",
		},
		{
			name: "think tag spans lines",
			in:   "<think>\nstep one\nstep two\n</think>\nDone.",
			want: "Done.",
		},
		{
			name: "thought tag case insensitive",
			in:   "<Thought>hmm</Thought>ok",
			want: "ok",
		},
		{
			name: "duplicate paragraph collapsed",
			in:   "I checked the file.\n\nI checked the file.\n\nIt looks fine.",
			want: "I checked the file.\n\nIt looks fine.",
		},
		{
			name: "distinct paragraphs kept",
			in:   "First point.\n\nSecond point.",
			want: "First point.\n\nSecond point.",
		},
		{
			name: "unclosed tag left alone",
			in:   "<thinking>never closed",
			want: "<thinking>never closed",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := sanitizeReply(tc.in); got != tc.want {
				t.Errorf("sanitizeReply(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}
