package generator

import (
	"testing"

	"github.com/psantana5/modelsearch/pkg/models"
)

func TestExtractCode(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{
			name:  "python block",
			input: "text\n```python\nclass GeneratedCNN(nn.Module):\n    pass\n```\nmore",
			want:  "class GeneratedCNN(nn.Module):\n    pass",
		},
		{
			name:  "python block preferred over earlier generic block",
			input: "```\nprint('x')\n```\n```python\nclass GeneratedCNN: pass\n```",
			want:  "class GeneratedCNN: pass",
		},
		{
			name:  "generic block with class",
			input: "```\nclass GeneratedCNN(nn.Module):\n    pass\n```",
			want:  "class GeneratedCNN(nn.Module):\n    pass",
		},
		{
			name:  "bare class lines",
			input: "Sure.\nclass GeneratedCNN(nn.Module):\n    def forward(self, x):\n        return x",
			want:  "class GeneratedCNN(nn.Module):\n    def forward(self, x):\n        return x",
		},
		{
			name:    "generic block without class",
			input:   "```\nprint('hello')\n```",
			wantErr: true,
		},
		{
			name:    "no code",
			input:   "I am unable to comply.",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractCode(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %q", got)
				}
				if !models.IsRecoverable(err) {
					t.Errorf("extraction errors must be recoverable, got %T", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("ExtractCode() = %q, want %q", got, tt.want)
			}
		})
	}
}
