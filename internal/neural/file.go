package neural

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	"github.com/sirupsen/logrus"
	"gorgonia.org/tensor"

	"duel_ai/internal/logger"
)

const (
	FileExt       = ".nn.zst"
	formatVersion = 2
)

type Header struct {
	Version int    `json:"version"`
	Name    string `json:"name"`
	Inputs  int    `json:"inputs"`
	Outputs int    `json:"outputs"`
	Hidden  int    `json:"hidden"`
	Samples int    `json:"samples"`
}

type state struct {
	Header         Header
	W1, B1, W2, B2 *tensor.Dense
}

func Path(dir, name string) string { return filepath.Join(dir, name+FileExt) }

// Save writes the network to <dir>/<name>.nn.zst: a JSON header line
// followed by a gob body, zstd-compressed. The file is written next to the
// old one and renamed over it, so a failed save keeps the previous weights.
func (n *Network) Save(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	path := Path(dir, n.name)
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if err := n.encode(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func (n *Network) encode(w io.Writer) error {
	st := n.state()
	hb, err := json.Marshal(st.Header)
	if err != nil {
		return fmt.Errorf("header: %w", err)
	}
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(enc)
	if err := writeBody(bw, hb, &st); err != nil {
		enc.Close()
		return err
	}
	return enc.Close()
}

func writeBody(bw *bufio.Writer, header []byte, st *state) error {
	if _, err := bw.Write(header); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}
	if err := gob.NewEncoder(bw).Encode(st); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	return bw.Flush()
}

// state copies the current weights out of the graph.
func (n *Network) state() state {
	ts := make([]*tensor.Dense, len(n.learnables))
	for i, node := range n.learnables {
		data := append([]float64(nil), node.Value().Data().([]float64)...)
		ts[i] = tensor.New(tensor.WithShape(node.Shape().Clone()...), tensor.WithBacking(data))
	}
	return state{Header: n.header(), W1: ts[0], B1: ts[1], W2: ts[2], B2: ts[3]}
}

func (n *Network) header() Header {
	return Header{
		Version: formatVersion,
		Name:    n.name,
		Inputs:  len(n.in),
		Outputs: len(n.out),
		Hidden:  n.hidden,
		Samples: n.samples,
	}
}

// ReadHeader returns only the header line of a saved network.
func ReadHeader(path string) (Header, error) {
	var h Header
	f, err := os.Open(path)
	if err != nil {
		return h, err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return h, err
	}
	defer dec.Close()
	line, err := bufio.NewReader(dec).ReadBytes('\n')
	if err != nil {
		return h, err
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, fmt.Errorf("header: %w", err)
	}
	return h, nil
}

func readState(path string) (state, error) {
	var st state
	f, err := os.Open(path)
	if err != nil {
		return st, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return st, err
	}
	defer dec.Close()

	br := bufio.NewReader(dec)
	// the gob body repeats the header
	if _, err := br.ReadBytes('\n'); err != nil {
		return st, err
	}
	if err := gob.NewDecoder(br).Decode(&st); err != nil {
		return st, fmt.Errorf("gob decode: %w", err)
	}
	return st, nil
}

// Open builds a network and restores its weights from dir when a matching
// file exists. A missing, unreadable or differently shaped file leaves the
// network freshly randomised; Open only fails on invalid bounds.
func Open(dir, name string, in, out []Bounds, opts ...Option) (*Network, error) {
	n, err := New(name, in, out, opts...)
	if err != nil {
		return nil, err
	}
	if dir == "" {
		return n, nil
	}
	path := Path(dir, name)
	if err := n.load(path); err != nil {
		logger.Log.WithField("network", name).WithError(err).Debug("Creating network")
		n.Reset()
		return n, nil
	}
	logger.Log.WithFields(logrus.Fields{
		"network": name,
		"samples": n.samples,
	}).Debug("Network loaded")
	return n, nil
}

func (n *Network) load(path string) error {
	st, err := readState(path)
	if err != nil {
		return err
	}
	h := st.Header
	if h.Version != formatVersion {
		return fmt.Errorf("unsupported version %d", h.Version)
	}
	ni, no, nh := len(n.in), len(n.out), n.hidden
	if h.Inputs != ni || h.Outputs != no || h.Hidden != nh {
		return fmt.Errorf("stored %dx%dx%d, want %dx%dx%d: %w",
			h.Inputs, h.Hidden, h.Outputs, ni, nh, no, ErrDimensionMismatch)
	}
	stored := []*tensor.Dense{st.W1, st.B1, st.W2, st.B2}
	want := []tensor.Shape{{nh, ni}, {nh}, {no, nh}, {no}}
	for i, t := range stored {
		if t == nil || !t.Shape().Eq(want[i]) {
			return fmt.Errorf("weight tensor %d shape: %w", i, ErrDimensionMismatch)
		}
	}
	for i, w := range n.weights() {
		copy(w, stored[i].Data().([]float64))
	}
	n.samples = h.Samples
	return nil
}
