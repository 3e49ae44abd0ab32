package reconcile

import (
	"fmt"
	"strconv"
	"strings"
)

// FilterGraph renders p as an ffmpeg -filter_complex graph whose final
// label is [out]. Mic inputs come first, system inputs after them.
func FilterGraph(p Plan) string {
	var chains []string
	rate := p.TargetSampleRate

	micLabels := make([]string, len(p.Mic))
	for i, m := range p.Mic {
		micLabels[i] = fmt.Sprintf("[m%d]", i)
		filters := []string{"aresample=" + strconv.Itoa(rate)}
		if m.Telephony {
			filters = append(filters, "highpass=f=200", "lowpass=f=3400")
		}
		filters = append(filters, "volume="+dB(m.GainDB))
		chains = append(chains, fmt.Sprintf("[%d:a]%s%s", i, strings.Join(filters, ","), micLabels[i]))
	}
	if len(micLabels) > 1 {
		chains = append(chains, fmt.Sprintf("%sconcat=n=%d:v=0:a=1[mic]", strings.Join(micLabels, ""), len(micLabels)))
	} else if len(micLabels) == 1 {
		chains = append(chains, micLabels[0]+"acopy[mic]")
	}

	sysLabels := make([]string, len(p.System))
	for j, s := range p.System {
		sysLabels[j] = fmt.Sprintf("[s%d]", j)
		filters := []string{"aresample=" + strconv.Itoa(rate)}
		if s.DelayMs > 0 {
			filters = append(filters, fmt.Sprintf("adelay=delays=%d:all=1", s.DelayMs))
		}
		filters = append(filters, "volume="+dB(p.SystemGainDB))
		chains = append(chains, fmt.Sprintf("[%d:a]%s%s", len(p.Mic)+j, strings.Join(filters, ","), sysLabels[j]))
	}
	if len(sysLabels) > 1 {
		chains = append(chains, fmt.Sprintf("%samix=inputs=%d:duration=longest:dropout_transition=0[sys]",
			strings.Join(sysLabels, ""), len(sysLabels)))
	} else if len(sysLabels) == 1 {
		chains = append(chains, sysLabels[0]+"acopy[sys]")
	}

	switch p.Mode {
	case ModeMixed:
		chains = append(chains, "[mic][sys]amix=inputs=2:duration=longest:dropout_transition=0[out]")
	case ModeMicOnly:
		chains = append(chains, "[mic]anull[out]")
	case ModeSystemOnly:
		chains = append(chains, "[sys]anull[out]")
	}
	return strings.Join(chains, ";")
}

// Args returns the full ffmpeg argument list writing 16-bit PCM to output.
func Args(p Plan, output string) []string {
	args := []string{"-nostdin", "-hide_banner", "-loglevel", "error", "-y"}
	for _, in := range p.Inputs() {
		args = append(args, "-i", in)
	}
	return append(args,
		"-filter_complex", FilterGraph(p),
		"-map", "[out]",
		"-acodec", "pcm_s16le",
		"-ar", strconv.Itoa(p.TargetSampleRate),
		output,
	)
}

func dB(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64) + "dB"
}
