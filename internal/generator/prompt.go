package generator

import (
	"fmt"
	"strings"

	"github.com/psantana5/modelsearch/pkg/models"
)

const systemPromptTemplate = `
You are an expert in designing Convolutional Neural Networks (CNNs) for image classification tasks using PyTorch.

Dataset information:
- Input shape: (%d, %d, %d)
- Number of classes: %d
- Number of training images: %d

Your task is to generate a complete, working PyTorch CNN class named 'GeneratedCNN' that:
1. Inherits from nn.Module
2. Has __init__ and forward methods
3. Uses the provided hyperparameters (learning rate, dropout, etc.)
4. Is appropriate for the dataset size and complexity
5. Returns logits (no softmax in forward)

Architectural guidelines:
- Use Conv2d layers with appropriate kernel sizes
- Include BatchNorm2d and dropout for regularization
- Use MaxPool2d to reduce spatial dimensions
- After convolutions, flatten and use Linear layers
- Common patterns: [Conv-BN-ReLU-Pool] repeated, then FC layers
- For small datasets (<10k images), keep it simple (2-3 conv layers)
- For larger datasets, you can use deeper architectures

Height/width calculations (for reference):
- After one 3x3 conv (padding=1): same size
- After MaxPool2d(2,2): H -> %d, W -> %d
- After two pools: H -> %d, W -> %d

Output format: Provide ONLY the Python class code, wrapped in ` + "```python ```" + ` markers.
Do NOT include training loops, optimizer code, or data loading.
Just the GeneratedCNN class definition.
`

// SystemPrompt describes the dataset geometry and the expected output format.
func SystemPrompt(ds models.DatasetDescriptor) string {
	shape := ds.Shape()
	c, h, w := shape[0], shape[1], shape[2]
	return fmt.Sprintf(systemPromptTemplate,
		c, h, w,
		ds.NumClasses, ds.NumSamples,
		h/2, w/2, h/4, w/4)
}

// UserPrompt asks for one candidate, carrying the previous outcome.
func UserPrompt(ds models.DatasetDescriptor, params models.HyperparameterSet, fb models.Feedback) string {
	shape := ds.Shape()

	var b strings.Builder
	fmt.Fprintf(&b, `
Generate a CNN architecture for image classification.

Dataset details:
- Input shape: (%d, %d, %d)
- Number of classes: %d
- Number of training samples: %d

Hyperparameters to use:
- Dropout rate: %g
- (Learning rate %g, batch size %d, optimizer %s will be used during training)
`, shape[0], shape[1], shape[2], ds.NumClasses, ds.NumSamples,
		params.DropoutRate, params.LearningRate, params.BatchSize, params.Optimizer)

	if fb.BestMetric != nil {
		fmt.Fprintf(&b, "\nPrevious best accuracy: %.4f", *fb.BestMetric)
		if fb.BestParams != nil {
			fmt.Fprintf(&b, "\nPrevious config: %s", fb.BestParams)
		}
	}

	if fb.LastError != "" {
		fmt.Fprintf(&b, "\n\nPrevious attempt failed with error:\n%s\n\nPlease fix the architecture to avoid this error.", fb.LastError)
	} else {
		b.WriteString("\n\nPlease generate an improved architecture.")
	}

	b.WriteString("\n\nProvide ONLY the GeneratedCNN class code.")
	return b.String()
}
