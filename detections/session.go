package detections

import (
	"fmt"
	"runtime"

	ort "github.com/yalue/onnxruntime_go"
)

// ModelSession is one ONNX session with its bound input and output tensors.
// A session serves a single forward pass at a time.
type ModelSession struct {
	Session *ort.AdvancedSession
	Input   *ort.Tensor[float32]
	Output  *ort.Tensor[float32]
}

var _ Session = (*ModelSession)(nil)

func (m *ModelSession) Destroy() {
	if m.Session != nil {
		m.Session.Destroy()
	}
	if m.Input != nil {
		m.Input.Destroy()
	}
	if m.Output != nil {
		m.Output.Destroy()
	}
}

// Run copies input into the bound tensor, runs the model and returns the
// output tensor data. The returned slice is owned by the session.
func (m *ModelSession) Run(input []float32) ([]float32, error) {
	copy(m.Input.GetData(), input)
	if err := m.Session.Run(); err != nil {
		return nil, err
	}
	return m.Output.GetData(), nil
}

// modelIO describes the single image input and detection output of a model.
type modelIO struct {
	InputName   string
	OutputName  string
	InputShape  ort.Shape
	OutputShape ort.Shape
}

// inspectModel reads the input and output signatures of the model file.
// Dynamic dimensions are pinned to a batch of one and inputSize.
func inspectModel(modelPath string, inputSize int) (modelIO, error) {
	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return modelIO{}, fmt.Errorf("read model signature: %w", err)
	}
	if len(inputs) != 1 || len(outputs) < 1 {
		return modelIO{}, fmt.Errorf("expected one input and at least one output, got %d and %d", len(inputs), len(outputs))
	}

	in := ort.NewShape(1, 3, int64(inputSize), int64(inputSize))
	if dims := inputs[0].Dimensions; len(dims) == 4 {
		if dims[2] > 0 && dims[3] > 0 && (dims[2] != int64(inputSize) || dims[3] != int64(inputSize)) {
			return modelIO{}, fmt.Errorf("model input is %dx%d, configured input size is %d", dims[3], dims[2], inputSize)
		}
	} else {
		return modelIO{}, fmt.Errorf("unexpected input rank %d", len(dims))
	}

	dims := outputs[0].Dimensions
	if len(dims) != 3 {
		return modelIO{}, fmt.Errorf("unexpected output rank %d", len(dims))
	}
	if dims[1] <= 0 || dims[2] <= 0 {
		return modelIO{}, fmt.Errorf("dynamic output shape %v is not supported", dims)
	}
	out := ort.NewShape(1, dims[1], dims[2])

	return modelIO{
		InputName:   inputs[0].Name,
		OutputName:  outputs[0].Name,
		InputShape:  in,
		OutputShape: out,
	}, nil
}

func initSession(modelPath string, sig modelIO, threads int) (*ModelSession, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("error creating session options: %w", err)
	}
	defer options.Destroy()

	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	if err := options.SetIntraOpNumThreads(threads); err != nil {
		return nil, fmt.Errorf("error setting intra-op threads: %w", err)
	}
	if err := options.SetInterOpNumThreads(1); err != nil {
		return nil, fmt.Errorf("error setting inter-op threads: %w", err)
	}

	inputTensor, err := ort.NewEmptyTensor[float32](sig.InputShape)
	if err != nil {
		return nil, fmt.Errorf("error creating input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](sig.OutputShape)
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("error creating output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(
		modelPath,
		[]string{sig.InputName},
		[]string{sig.OutputName},
		[]ort.Value{inputTensor},
		[]ort.Value{outputTensor},
		options,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("error creating session: %w", err)
	}

	return &ModelSession{
		Session: session,
		Input:   inputTensor,
		Output:  outputTensor,
	}, nil
}

// warmUp runs one forward pass on a zeroed input.
func (m *ModelSession) warmUp() error {
	_, err := m.Run(make([]float32, len(m.Input.GetData())))
	return err
}

// readClassNames returns the class names embedded in the model metadata.
func readClassNames(modelPath string) (ClassMap, error) {
	meta, err := ort.GetModelMetadata(modelPath)
	if err != nil {
		return ClassMap{}, fmt.Errorf("read model metadata: %w", err)
	}
	defer meta.Destroy()

	names, ok, err := meta.LookupCustomMetadataMap(MetadataNamesKey)
	if err != nil {
		return ClassMap{}, fmt.Errorf("read model metadata: %w", err)
	}
	if !ok {
		return ClassMap{}, fmt.Errorf("model metadata has no %q entry", MetadataNamesKey)
	}
	return ParseClassNames([]byte(names))
}
