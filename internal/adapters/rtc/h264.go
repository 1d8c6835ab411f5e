package rtc

import (
	"math/bits"
	"time"

	"github.com/dkeye/Bounce/internal/domain"
)

const (
	nalSPS = 7
	nalPPS = 8
	nalIDR = 5

	mbTypeIPCM = 25
	mbSize     = 16
)

// PCMEncoder produces a constrained baseline H.264 Annex-B access unit per
// frame. Every frame is an IDR picture carrying its own SPS and PPS, and every
// macroblock is coded as I_PCM, so any H.264 decoder can show it and a lost
// frame never corrupts the next one. Output is uncompressed and therefore
// large; GstEncoder is the compressing alternative.
//
// Encode is not safe for concurrent use.
type PCMEncoder struct {
	idr uint32
}

func (e *PCMEncoder) Encode(f domain.Frame, _ time.Duration) ([]byte, error) {
	yuv, err := ToI420(f)
	if err != nil {
		return nil, err
	}
	w, h := f.Width, f.Height
	mbw, mbh := (w+mbSize-1)/mbSize, (h+mbSize-1)/mbSize

	out := make([]byte, 0, 64+mbw*mbh*(mbSize*mbSize*3/2+2))
	out = appendNAL(out, 0x60|nalSPS, spsRBSP(w, h, mbw, mbh))
	out = appendNAL(out, 0x60|nalPPS, ppsRBSP())
	out = appendNAL(out, 0x60|nalIDR, e.sliceRBSP(yuv, w, h, mbw, mbh))
	e.idr = (e.idr + 1) & 0xffff
	return out, nil
}

func levelIDC(frameMBs int) uint64 {
	switch {
	case frameMBs <= 1620:
		return 30
	case frameMBs <= 3600:
		return 31
	case frameMBs <= 5120:
		return 32
	case frameMBs <= 8192:
		return 40
	default:
		return 51
	}
}

func spsRBSP(w, h, mbw, mbh int) []byte {
	var b bitWriter
	b.bits(66, 8)   // profile_idc: baseline
	b.bits(0xc0, 8) // constraint_set0 and constraint_set1
	b.bits(levelIDC(mbw*mbh), 8)
	b.ue(0) // seq_parameter_set_id
	b.ue(0) // log2_max_frame_num_minus4
	b.ue(2) // pic_order_cnt_type
	b.ue(1) // max_num_ref_frames
	b.bit(0)
	b.ue(uint32(mbw - 1))
	b.ue(uint32(mbh - 1))
	b.bit(1) // frame_mbs_only_flag
	b.bit(1) // direct_8x8_inference_flag
	cropR, cropB := (mbw*mbSize-w)/2, (mbh*mbSize-h)/2
	if cropR > 0 || cropB > 0 {
		b.bit(1)
		b.ue(0)
		b.ue(uint32(cropR))
		b.ue(0)
		b.ue(uint32(cropB))
	} else {
		b.bit(0)
	}
	b.bit(0) // vui_parameters_present_flag
	b.trailing()
	return b.buf
}

func ppsRBSP() []byte {
	var b bitWriter
	b.ue(0)  // pic_parameter_set_id
	b.ue(0)  // seq_parameter_set_id
	b.bit(0) // CAVLC
	b.bit(0)
	b.ue(0) // num_slice_groups_minus1
	b.ue(0)
	b.ue(0)
	b.bit(0)
	b.bits(0, 2)
	b.se(0) // pic_init_qp_minus26
	b.se(0)
	b.se(0)
	b.bit(0) // deblocking_filter_control_present_flag
	b.bit(0)
	b.bit(0)
	b.trailing()
	return b.buf
}

func (e *PCMEncoder) sliceRBSP(yuv []byte, w, h, mbw, mbh int) []byte {
	cw, ch := (w+1)/2, (h+1)/2
	yPlane := yuv[:w*h]
	uPlane := yuv[w*h : w*h+cw*ch]
	vPlane := yuv[w*h+cw*ch:]

	var b bitWriter
	b.buf = make([]byte, 0, 16+mbw*mbh*(mbSize*mbSize*3/2+2))
	b.ue(0) // first_mb_in_slice
	b.ue(7) // slice_type: I, all slices
	b.ue(0) // pic_parameter_set_id
	b.bits(0, 4)
	b.ue(e.idr)
	b.bit(0) // no_output_of_prior_pics_flag
	b.bit(0) // long_term_reference_flag
	b.se(0)  // slice_qp_delta

	for my := 0; my < mbh; my++ {
		for mx := 0; mx < mbw; mx++ {
			b.ue(mbTypeIPCM)
			b.align()
			b.buf = appendBlock(b.buf, yPlane, w, h, mx*mbSize, my*mbSize, mbSize)
			b.buf = appendBlock(b.buf, uPlane, cw, ch, mx*mbSize/2, my*mbSize/2, mbSize/2)
			b.buf = appendBlock(b.buf, vPlane, cw, ch, mx*mbSize/2, my*mbSize/2, mbSize/2)
		}
	}
	b.trailing()
	return b.buf
}

// appendBlock appends an n by n block of plane at (x0, y0), repeating the last
// row and column past the plane edge.
func appendBlock(dst, plane []byte, pw, ph, x0, y0, n int) []byte {
	for y := y0; y < y0+n; y++ {
		row := min(y, ph-1) * pw
		for x := x0; x < x0+n; x++ {
			dst = append(dst, plane[row+min(x, pw-1)])
		}
	}
	return dst
}

// appendNAL appends a start code, the NAL header and rbsp with emulation
// prevention bytes inserted.
func appendNAL(dst []byte, header byte, rbsp []byte) []byte {
	dst = append(dst, 0, 0, 0, 1, header)
	zeros := 0
	for _, c := range rbsp {
		if zeros >= 2 && c <= 3 {
			dst = append(dst, 3)
			zeros = 0
		}
		dst = append(dst, c)
		if c == 0 {
			zeros++
		} else {
			zeros = 0
		}
	}
	return dst
}

type bitWriter struct {
	buf []byte
	cur byte
	n   uint8
}

func (w *bitWriter) bit(v uint) {
	w.cur = w.cur<<1 | byte(v&1)
	w.n++
	if w.n == 8 {
		w.buf = append(w.buf, w.cur)
		w.cur, w.n = 0, 0
	}
}

func (w *bitWriter) bits(v uint64, n int) {
	for i := n - 1; i >= 0; i-- {
		w.bit(uint(v >> uint(i)))
	}
}

// ue writes v as unsigned Exp-Golomb.
func (w *bitWriter) ue(v uint32) {
	x := uint64(v) + 1
	n := bits.Len64(x)
	w.bits(0, n-1)
	w.bits(x, n)
}

func (w *bitWriter) se(v int32) {
	if v > 0 {
		w.ue(uint32(2*v - 1))
		return
	}
	w.ue(uint32(-2 * v))
}

func (w *bitWriter) align() {
	for w.n != 0 {
		w.bit(0)
	}
}

func (w *bitWriter) trailing() {
	w.bit(1)
	w.align()
}
