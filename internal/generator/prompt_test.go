package generator

import (
	"strings"
	"testing"

	"github.com/psantana5/modelsearch/pkg/models"
)

func TestSystemPromptGeometry(t *testing.T) {
	ds := models.DatasetDescriptor{InputShape: [3]int{1, 64, 48}, NumClasses: 10, NumSamples: 500}
	p := SystemPrompt(ds)

	for _, want := range []string{
		"Input shape: (1, 64, 48)",
		"Number of classes: 10",
		"After MaxPool2d(2,2): H -> 32, W -> 24",
		"After two pools: H -> 16, W -> 12",
		"```python ```",
	} {
		if !strings.Contains(p, want) {
			t.Errorf("system prompt missing %q", want)
		}
	}
}

func TestUserPromptFeedback(t *testing.T) {
	ds := models.DatasetDescriptor{NumClasses: 3, NumSamples: 120}
	params := models.HyperparameterSet{LearningRate: 5e-4, BatchSize: 64, Optimizer: models.OptimizerSGD, DropoutRate: 0.1, Epochs: 4}
	best := models.HyperparameterSet{LearningRate: 1e-3, BatchSize: 32, Optimizer: models.OptimizerAdam, DropoutRate: 0.2, Epochs: 3}

	tests := []struct {
		name    string
		fb      models.Feedback
		want    []string
		notWant []string
	}{
		{
			name:    "first iteration",
			fb:      models.Feedback{},
			want:    []string{"Please generate an improved architecture.", "optimizer SGD"},
			notWant: []string{"Previous best accuracy", "Previous attempt failed"},
		},
		{
			name: "with best and config",
			fb:   models.Feedback{BestMetric: models.Float64(0.61234), BestParams: &best},
			want: []string{"Previous best accuracy: 0.6123", "Previous config: lr=0.001 batch=32"},
		},
		{
			name: "with error",
			fb:   models.Feedback{BestMetric: models.Float64(0), LastError: "mat1 and mat2 shapes cannot be multiplied"},
			want: []string{
				"Previous attempt failed with error:\nmat1 and mat2 shapes cannot be multiplied\n\nPlease fix the architecture to avoid this error.",
			},
			notWant: []string{"Please generate an improved architecture."},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := UserPrompt(ds, params, tt.fb)
			if !strings.HasSuffix(p, "Provide ONLY the GeneratedCNN class code.") {
				t.Error("prompt should end with the closing instruction")
			}
			for _, w := range tt.want {
				if !strings.Contains(p, w) {
					t.Errorf("prompt missing %q", w)
				}
			}
			for _, w := range tt.notWant {
				if strings.Contains(p, w) {
					t.Errorf("prompt should not contain %q", w)
				}
			}
		})
	}
}
