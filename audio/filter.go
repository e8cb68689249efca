package audio

import (
	"fmt"
	"math"
)

// ConfigError 表示音频参数不合法，在构造时立即返回
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid audio config: %s %s", e.Field, e.Reason)
}

// FilterConfig 平滑与噪声门限配置
type FilterConfig struct {
	WindowSize        int     `mapstructure:"window_size"`
	NoiseThresholdRMS float64 `mapstructure:"noise_threshold_rms"`
}

// Filter 是无状态的采样过滤器：先做滑动平均平滑，再按 RMS 判断噪声
type Filter struct {
	cfg FilterConfig
}

// NewFilter 校验配置并创建过滤器
func NewFilter(cfg FilterConfig) (*Filter, error) {
	if cfg.WindowSize < 1 {
		return nil, &ConfigError{Field: "window_size", Reason: fmt.Sprintf("must be >= 1, got %d", cfg.WindowSize)}
	}
	if math.IsNaN(cfg.NoiseThresholdRMS) || cfg.NoiseThresholdRMS < 0 {
		return nil, &ConfigError{Field: "noise_threshold_rms", Reason: fmt.Sprintf("must be >= 0, got %v", cfg.NoiseThresholdRMS)}
	}
	return &Filter{cfg: cfg}, nil
}

// Config 返回过滤器配置
func (f *Filter) Config() FilterConfig { return f.cfg }

// Smooth 使用配置的窗口平滑一个块
func (f *Filter) Smooth(b Block) Block { return Smooth(b, f.cfg.WindowSize) }

// IsNoise 使用配置的阈值判断一个块是否为噪声
func (f *Filter) IsNoise(b Block) bool { return IsNoise(b, f.cfg.NoiseThresholdRMS) }

// Process 平滑后再判断噪声；噪声块返回 ok=false。
// 门限作用于平滑后的信号，瞬时尖峰会先被削弱
func (f *Filter) Process(b Block) (Block, bool) {
	smoothed := f.Smooth(b)
	if f.IsNoise(smoothed) {
		return smoothed, false
	}
	return smoothed, true
}

// Smooth 做居中的均匀核卷积（same 模式），输出长度等于输入长度。
// 块外的采样视为 0，核权重固定为 1/windowSize；windowSize <= 1 时原样返回
func Smooth(b Block, windowSize int) Block {
	if windowSize <= 1 || len(b) == 0 {
		return b.Clone()
	}

	n := len(b)
	// same 模式从完整卷积的 (w-1)/2 处截取
	offset := (windowSize - 1) / 2

	// 前缀和，prefix[i] = sum(b[:i])
	prefix := make([]int64, n+1)
	for i, s := range b {
		prefix[i+1] = prefix[i] + int64(s)
	}

	out := make(Block, n)
	for i := 0; i < n; i++ {
		// out[i] = (1/w) * sum_{j=0}^{w-1} b[i+offset-j]
		hi := i + offset
		lo := hi - windowSize + 1
		if hi > n-1 {
			hi = n - 1
		}
		if lo < 0 {
			lo = 0
		}
		var sum int64
		if hi >= lo {
			sum = prefix[hi+1] - prefix[lo]
		}
		out[i] = clampInt16(math.Round(float64(sum) / float64(windowSize)))
	}
	return out
}

// RMS 计算均方根，空块为 0
func RMS(b Block) float64 {
	if len(b) == 0 {
		return 0
	}
	var sum float64
	for _, s := range b {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(b)))
}

// IsNoise 当且仅当 RMS 小于阈值时返回 true
func IsNoise(b Block, thresholdRMS float64) bool {
	return RMS(b) < thresholdRMS
}

func clampInt16(v float64) int16 {
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	default:
		return int16(v)
	}
}
