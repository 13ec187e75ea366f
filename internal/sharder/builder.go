package sharder

import (
	"bytes"
	"strconv"

	"github.com/klauspost/compress/gzip"

	"github.com/tinytelemetry/prom-reaper/internal/exposition"
	"github.com/tinytelemetry/prom-reaper/internal/state"
)

// SourceFamilies is one source's parsed output plus the constant labels
// configured for it. Extra labels are merged into every sample before
// hashing and rendering; on a name conflict the extra label wins.
type SourceFamilies struct {
	Families    []*exposition.MetricFamily
	ExtraLabels map[string]string
}

// Build distributes every sample across numShards pre-rendered shard
// bodies. HELP and TYPE headers for a family are written into a shard
// the first time any of its series lands there, so each shard body is a
// valid exposition on its own. Sources are processed independently;
// when two sources expose the same family name, the first header seen
// for a shard wins.
func Build(sources []SourceFamilies, numShards uint32) []state.Shard {
	bufs := make([]bytes.Buffer, numShards)
	headed := make([]map[string]bool, numShards)
	series := make([]int, numShards)
	for i := range headed {
		headed[i] = make(map[string]bool)
	}

	for _, src := range sources {
		for _, family := range src.Families {
			for i := range family.Samples {
				sample := &family.Samples[i]
				labels := mergeLabels(sample.Labels, src.ExtraLabels)
				names := sortedLabelNames(labels)

				sid := Assign(SeriesKey(family.Name, labels, names), numShards)

				if !headed[sid][family.Name] {
					writeHeader(&bufs[sid], family)
					headed[sid][family.Name] = true
				}
				writeSample(&bufs[sid], sample, labels, names)
				series[sid]++
			}
		}
	}

	shards := make([]state.Shard, numShards)
	for i := range shards {
		text := bufs[i].Bytes()
		shards[i] = state.Shard{
			Text:     text,
			Gzip:     gzipCompress(text),
			Series:   series[i],
			Families: len(headed[i]),
		}
	}
	return shards
}

// mergeLabels overlays extras onto the sample's own labels. Extras win
// on conflict; the resolution is pinned by tests.
func mergeLabels(own, extras map[string]string) map[string]string {
	if len(extras) == 0 {
		return own
	}
	merged := make(map[string]string, len(own)+len(extras))
	for k, v := range own {
		merged[k] = v
	}
	for k, v := range extras {
		merged[k] = v
	}
	return merged
}

func writeHeader(buf *bytes.Buffer, family *exposition.MetricFamily) {
	if family.Help != "" {
		buf.WriteString("# HELP ")
		buf.WriteString(family.Name)
		buf.WriteByte(' ')
		buf.WriteString(exposition.EscapeHelp(family.Help))
		buf.WriteByte('\n')
	}
	buf.WriteString("# TYPE ")
	buf.WriteString(family.Name)
	buf.WriteByte(' ')
	buf.WriteString(string(family.Type))
	buf.WriteByte('\n')
}

func writeSample(buf *bytes.Buffer, sample *exposition.Sample, labels map[string]string, sortedNames []string) {
	buf.WriteString(sample.Name)
	if len(sortedNames) > 0 {
		buf.WriteByte('{')
		for i, name := range sortedNames {
			if i > 0 {
				buf.WriteByte(',')
			}
			buf.WriteString(name)
			buf.WriteString(`="`)
			buf.WriteString(exposition.EscapeLabelValue(labels[name]))
			buf.WriteByte('"')
		}
		buf.WriteByte('}')
	}
	buf.WriteByte(' ')
	buf.WriteString(formatValue(sample.Value))
	if sample.Timestamp != nil {
		buf.WriteByte(' ')
		buf.WriteString(strconv.FormatInt(*sample.Timestamp, 10))
	}
	if sample.Exemplar != "" {
		buf.WriteString(" # ")
		buf.WriteString(sample.Exemplar)
	}
	buf.WriteByte('\n')
}

// formatValue renders the shortest decimal that round-trips; NaN, +Inf
// and -Inf come out as those literal tokens.
func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func gzipCompress(data []byte) []byte {
	var buf bytes.Buffer
	gz, err := gzip.NewWriterLevel(&buf, gzip.BestSpeed)
	if err != nil {
		// BestSpeed is a valid level; NewWriterLevel cannot fail on it.
		panic(err)
	}
	if _, err := gz.Write(data); err != nil {
		panic(err)
	}
	if err := gz.Close(); err != nil {
		panic(err)
	}
	return buf.Bytes()
}
