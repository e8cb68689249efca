package audio

import "encoding/binary"

// Block 是一次采集回调得到的单声道 16 位采样
type Block []int16

// BytesPerSample 每个采样在线路上的字节数
const BytesPerSample = 2

// Bytes 将采样序列化为小端字节
func (b Block) Bytes() []byte {
	out := make([]byte, len(b)*BytesPerSample)
	for i, s := range b {
		binary.LittleEndian.PutUint16(out[i*BytesPerSample:], uint16(s))
	}
	return out
}

// Clone 返回一份独立拷贝
func (b Block) Clone() Block {
	if b == nil {
		return nil
	}
	out := make(Block, len(b))
	copy(out, b)
	return out
}

// BlockFromBytes 将小端字节解码为采样，返回末尾不足一个采样的剩余字节
func BlockFromBytes(data []byte) (Block, []byte) {
	n := len(data) / BytesPerSample
	pcm := make(Block, n)
	for i := 0; i < n; i++ {
		pcm[i] = int16(binary.LittleEndian.Uint16(data[i*BytesPerSample:]))
	}
	return pcm, data[n*BytesPerSample:]
}

// bytesToInt16 将byte切片转换为int16切片，奇数长度时丢弃最后一个字节
func bytesToInt16(b []byte) []int16 {
	pcm, _ := BlockFromBytes(b)
	return pcm
}
