package series

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/jonboulle/clockwork"
)

// Extension 序列文件扩展名
const Extension = ".dp"

const (
	fileMagic   = "MSDP"
	fileVersion = uint16(1)
	slotSize    = 16
)

func headerSize(tiers int) int64 {
	// magic + version + tier 数量 + 每个 tier 的 (resolution, retention)
	return int64(len(fileMagic)) + 2 + 2 + int64(tiers)*8
}

// PathFor 指标名中的点映射为目录："cpu.user" -> dir/cpu/user.dp
func PathFor(dir, name string) string {
	return filepath.Join(dir, filepath.FromSlash(strings.ReplaceAll(name, ".", "/"))+Extension)
}

// NameFor PathFor 的逆操作
func NameFor(dir, path string) (string, bool) {
	rel, err := filepath.Rel(dir, path)
	if err != nil || !strings.HasSuffix(rel, Extension) || strings.HasPrefix(rel, "..") {
		return "", false
	}
	rel = strings.TrimSuffix(rel, Extension)
	return strings.ReplaceAll(filepath.ToSlash(rel), "/", "."), true
}

// Open 打开 path 上的序列文件，不存在时按 tiers 创建并预分配。
// 已存在的文件保留原有布局，忽略 tiers 参数。
func Open(path, name string, tiers []Tier, opts ...Option) (*Series, error) {
	s := &Series{name: name, path: path, clock: clockwork.NewRealClock()}
	for _, o := range opts {
		o(s)
	}

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	switch {
	case err == nil:
		archives, err := readArchives(f)
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("open %s: %w", path, err)
		}
		s.archives, s.file = archives, f
		return s, nil
	case !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	if err := ValidateTiers(tiers); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", filepath.Dir(path), err)
	}
	f, err = os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	s.archives = newArchives(tiers)
	if err := writeFile(f, s.archives); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	s.file = f
	return s, nil
}

func writeFile(f *os.File, archives []*archive) error {
	w := bufio.NewWriter(f)
	hdr := make([]byte, 0, headerSize(len(archives)))
	hdr = append(hdr, fileMagic...)
	hdr = binary.BigEndian.AppendUint16(hdr, fileVersion)
	hdr = binary.BigEndian.AppendUint16(hdr, uint16(len(archives)))
	for _, a := range archives {
		hdr = binary.BigEndian.AppendUint32(hdr, a.Resolution)
		hdr = binary.BigEndian.AppendUint32(hdr, a.Retention)
	}
	if _, err := w.Write(hdr); err != nil {
		return err
	}
	var buf [slotSize]byte
	for _, a := range archives {
		for _, s := range a.slots {
			encodeSlot(buf[:], s)
			if _, err := w.Write(buf[:]); err != nil {
				return err
			}
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return f.Sync()
}

func readArchives(f *os.File) ([]*archive, error) {
	r := bufio.NewReader(f)
	fixed := make([]byte, len(fileMagic)+4)
	if _, err := io.ReadFull(r, fixed); err != nil {
		return nil, fmt.Errorf("%w: short header", ErrCorruptFile)
	}
	if !bytes.Equal(fixed[:len(fileMagic)], []byte(fileMagic)) {
		return nil, fmt.Errorf("%w: bad magic", ErrCorruptFile)
	}
	if v := binary.BigEndian.Uint16(fixed[4:6]); v != fileVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorruptFile, v)
	}
	count := int(binary.BigEndian.Uint16(fixed[6:8]))

	tierBuf := make([]byte, count*8)
	if _, err := io.ReadFull(r, tierBuf); err != nil {
		return nil, fmt.Errorf("%w: short tier table", ErrCorruptFile)
	}
	tiers := make([]Tier, count)
	for i := range tiers {
		tiers[i] = Tier{
			Resolution: binary.BigEndian.Uint32(tierBuf[i*8:]),
			Retention:  binary.BigEndian.Uint32(tierBuf[i*8+4:]),
		}
	}
	if err := ValidateTiers(tiers); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptFile, err)
	}

	archives := newArchives(tiers)
	var buf [slotSize]byte
	for _, a := range archives {
		for i := range a.slots {
			if _, err := io.ReadFull(r, buf[:]); err != nil {
				return nil, fmt.Errorf("%w: truncated at tier %s", ErrCorruptFile, a.Tier)
			}
			a.slots[i] = decodeSlot(buf[:])
		}
	}
	return archives, nil
}

func encodeSlot(b []byte, s slot) {
	binary.BigEndian.PutUint64(b[0:8], uint64(s.ts))
	binary.BigEndian.PutUint64(b[8:16], math.Float64bits(s.val))
}

func decodeSlot(b []byte) slot {
	return slot{
		ts:  int64(binary.BigEndian.Uint64(b[0:8])),
		val: math.Float64frombits(binary.BigEndian.Uint64(b[8:16])),
	}
}

func writeSlot(f *os.File, off int64, s slot) error {
	var buf [slotSize]byte
	encodeSlot(buf[:], s)
	_, err := f.WriteAt(buf[:], off)
	return err
}
