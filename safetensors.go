package styletransfer

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"sort"

	"gorgonia.org/tensor"
)

// maxSafetensorsHeader bounds the JSON header so a corrupt length prefix
// cannot trigger a huge allocation.
const maxSafetensorsHeader = 100 << 20

// tensorInfo describes one entry of a safetensors header.
type tensorInfo struct {
	DType   string `json:"dtype"`
	Shape   []int  `json:"shape"`
	Offsets [2]int `json:"data_offsets"`
}

// LoadSafetensors reads a safetensors file and returns its tensors by
// name as float32 tensors.
func LoadSafetensors(path string) (map[string]*tensor.Dense, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open weights: %w", err)
	}
	defer f.Close()

	tensors, err := ReadSafetensors(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return tensors, nil
}

// ReadSafetensors decodes a safetensors stream. F32, F16 and BF16 entries
// are converted to float32; other dtypes are an error.
func ReadSafetensors(r io.Reader) (map[string]*tensor.Dense, error) {
	var headerSize uint64
	if err := binary.Read(r, binary.LittleEndian, &headerSize); err != nil {
		return nil, fmt.Errorf("failed to read header size: %w", err)
	}
	if headerSize > maxSafetensorsHeader {
		return nil, fmt.Errorf("header size %d exceeds limit", headerSize)
	}

	headerBytes := make([]byte, headerSize)
	if _, err := io.ReadFull(r, headerBytes); err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(headerBytes, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse header: %w", err)
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read data: %w", err)
	}

	tensors := make(map[string]*tensor.Dense, len(raw))
	for name, msg := range raw {
		if name == "__metadata__" {
			continue
		}
		var info tensorInfo
		if err := json.Unmarshal(msg, &info); err != nil {
			return nil, fmt.Errorf("tensor %s: %w", name, err)
		}
		t, err := decodeTensor(info, data)
		if err != nil {
			return nil, fmt.Errorf("tensor %s: %w", name, err)
		}
		tensors[name] = t
	}
	return tensors, nil
}

func decodeTensor(info tensorInfo, data []byte) (*tensor.Dense, error) {
	n := 1
	for _, d := range info.Shape {
		if d < 0 {
			return nil, fmt.Errorf("negative dimension in shape %v", info.Shape)
		}
		n *= d
	}

	var width int
	switch info.DType {
	case "F32":
		width = 4
	case "F16", "BF16":
		width = 2
	default:
		return nil, fmt.Errorf("unsupported dtype %s", info.DType)
	}

	start, end := info.Offsets[0], info.Offsets[1]
	if start < 0 || end > len(data) || end-start != n*width {
		return nil, fmt.Errorf("data offsets [%d,%d) do not match shape %v", start, end, info.Shape)
	}
	buf := data[start:end]

	out := make([]float32, n)
	for i := range out {
		switch info.DType {
		case "F32":
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
		case "F16":
			out[i] = float16ToFloat32(binary.LittleEndian.Uint16(buf[i*2:]))
		case "BF16":
			out[i] = math.Float32frombits(uint32(binary.LittleEndian.Uint16(buf[i*2:])) << 16)
		}
	}

	shape := info.Shape
	if len(shape) == 0 {
		shape = []int{1}
	}
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(out)), nil
}

// float16ToFloat32 widens an IEEE 754 half-precision value.
func float16ToFloat32(h uint16) float32 {
	sign := uint32(h>>15) << 31
	exp := uint32(h>>10) & 0x1f
	mant := uint32(h) & 0x3ff

	switch {
	case exp == 0 && mant == 0:
		return math.Float32frombits(sign)
	case exp == 0:
		// subnormal: renormalize
		for mant&0x400 == 0 {
			mant <<= 1
			exp--
		}
		exp++
		mant &= 0x3ff
	case exp == 0x1f:
		return math.Float32frombits(sign | 0x7f800000 | mant<<13)
	}
	return math.Float32frombits(sign | (exp+112)<<23 | mant<<13)
}

// WriteSafetensors encodes float32 tensors in safetensors format, with
// entries ordered by name.
func WriteSafetensors(w io.Writer, tensors map[string]*tensor.Dense) error {
	names := make([]string, 0, len(tensors))
	for name := range tensors {
		names = append(names, name)
	}
	sort.Strings(names)

	header := make(map[string]tensorInfo, len(names))
	offset := 0
	for _, name := range names {
		t := tensors[name]
		if _, ok := t.Data().([]float32); !ok {
			return fmt.Errorf("tensor %s: dtype %v, want float32", name, t.Dtype())
		}
		size := t.Shape().TotalSize() * 4
		header[name] = tensorInfo{
			DType:   "F32",
			Shape:   append([]int(nil), t.Shape()...),
			Offsets: [2]int{offset, offset + size},
		}
		offset += size
	}

	headerBytes, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("failed to encode header: %w", err)
	}
	if pad := len(headerBytes) % 8; pad != 0 {
		headerBytes = append(headerBytes, bytes.Repeat([]byte{' '}, 8-pad)...)
	}

	bw := bufio.NewWriter(w)
	if err := binary.Write(bw, binary.LittleEndian, uint64(len(headerBytes))); err != nil {
		return err
	}
	if _, err := bw.Write(headerBytes); err != nil {
		return err
	}
	var word [4]byte
	for _, name := range names {
		for _, v := range tensors[name].Data().([]float32) {
			binary.LittleEndian.PutUint32(word[:], math.Float32bits(v))
			if _, err := bw.Write(word[:]); err != nil {
				return err
			}
		}
	}
	return bw.Flush()
}
