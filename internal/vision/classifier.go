package vision

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// Classifier runs a MobileNetV2 ONNX model over decoded images.
// The runtime, labels and session are loaded on first use.
type Classifier struct {
	mu sync.Mutex

	modelPath  string
	labelsPath string
	topK       int
	libPath    string

	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
	labels  []string
	inited  bool
}

func NewClassifier(modelPath, labelsPath, onnxLibPath string, topK int) *Classifier {
	if topK <= 0 {
		topK = 5
	}
	return &Classifier{
		modelPath:  modelPath,
		labelsPath: labelsPath,
		topK:       topK,
		libPath:    onnxLibPath,
	}
}

// load must be called with c.mu held.
func (c *Classifier) load() error {
	if c.inited {
		return nil
	}
	if c.modelPath == "" {
		return fmt.Errorf("vision model path is not configured")
	}
	if c.libPath != "" {
		ort.SetSharedLibraryPath(c.libPath)
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return fmt.Errorf("onnx init environment: %w", err)
		}
	}

	labels, err := loadLabels(c.labelsPath)
	if err != nil {
		return fmt.Errorf("load labels: %w", err)
	}

	inputs, outputs, err := ort.GetInputOutputInfo(c.modelPath)
	if err != nil {
		return fmt.Errorf("onnx get input/output info: %w", err)
	}
	if len(inputs) == 0 || len(outputs) == 0 {
		return fmt.Errorf("onnx model has no inputs or outputs")
	}

	input, err := ort.NewEmptyTensor[float32](inputs[0].Dimensions)
	if err != nil {
		return fmt.Errorf("onnx new input tensor: %w", err)
	}
	output, err := ort.NewEmptyTensor[float32](outputs[0].Dimensions)
	if err != nil {
		input.Destroy()
		return fmt.Errorf("onnx new output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(c.modelPath,
		[]string{inputs[0].Name}, []string{outputs[0].Name},
		[]ort.Value{input}, []ort.Value{output}, nil)
	if err != nil {
		output.Destroy()
		input.Destroy()
		return fmt.Errorf("onnx new session: %w", err)
	}

	c.labels = labels
	c.input = input
	c.output = output
	c.session = session
	c.inited = true
	return nil
}

func loadLabels(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var labels []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		labels = append(labels, strings.TrimSpace(sc.Text()))
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return labels, nil
}

// Classify decodes imageData and returns the top-k labels by score.
func (c *Classifier) Classify(imageData []byte) ([]LabelScore, error) {
	img, err := decodeImage(imageData)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	tensor := preprocess(img)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.load(); err != nil {
		return nil, err
	}

	in := c.input.GetData()
	if len(in) < len(tensor) {
		return nil, fmt.Errorf("input tensor size %d < preprocessed %d", len(in), len(tensor))
	}
	copy(in, tensor)
	if err := c.session.Run(); err != nil {
		return nil, fmt.Errorf("onnx run: %w", err)
	}
	return topLabels(c.output.GetData(), c.labels, c.topK), nil
}

// Close releases the ONNX session and tensors. The classifier reloads on next use.
func (c *Classifier) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.inited {
		return
	}
	c.session.Destroy()
	c.input.Destroy()
	c.output.Destroy()
	c.session, c.input, c.output = nil, nil, nil
	c.inited = false
}
