package render

import (
	"fmt"
	"strconv"
	"time"

	"github.com/pithecene-io/unlockbench/proxy"
	"github.com/pithecene-io/unlockbench/store"
	"github.com/pithecene-io/unlockbench/types"
)

const cellWidth = 48

// RunView renders a run result with one row per instance.
type RunView struct {
	RequestID string
	Result    *types.RunResult
}

type runPayload struct {
	RequestID        string `json:"requestId" yaml:"requestId"`
	*types.RunResult `yaml:",inline"`
}

// Payload implements View.
func (v RunView) Payload() any {
	return runPayload{RequestID: v.RequestID, RunResult: v.Result}
}

// Summary implements Summarizer.
func (v RunView) Summary() [][2]string {
	r := v.Result
	rows := [][2]string{
		{"request", v.RequestID},
		{"url", r.URL},
		{"success", strconv.FormatBool(r.Success)},
		{"time", r.ResponseTime + "s"},
	}
	if r.SuccessRate != "" {
		rows = append(rows, [2]string{"success rate", r.SuccessRate})
	}
	if r.Stopped {
		rows = append(rows, [2]string{"stopped", "true"})
	}
	if r.Error != "" {
		rows = append(rows, [2]string{"error", r.Error})
	}
	return rows
}

// Header implements Tabular.
func (v RunView) Header() []string {
	return []string{"INSTANCE", "SUCCESS", "STATUS", "TIME", "BYTES", "ERROR"}
}

// Rows implements Tabular.
func (v RunView) Rows() [][]string {
	r := v.Result
	if r.IsAB() {
		return [][]string{
			variantRow("A", r.ResultA),
			variantRow("B", r.ResultB),
		}
	}
	rows := make([][]string, 0, len(r.InstanceResults))
	for _, inst := range r.InstanceResults {
		rows = append(rows, []string{
			strconv.Itoa(inst.InstanceNum),
			strconv.FormatBool(inst.Success),
			statusText(inst.StatusCode),
			inst.ResponseTime,
			strconv.Itoa(len(inst.Content)),
			Truncate(inst.Error, cellWidth),
		})
	}
	return rows
}

func variantRow(name string, v types.VariantResult) []string {
	return []string{
		name,
		strconv.FormatBool(v.Success),
		statusText(v.StatusCode),
		v.ResponseTime,
		strconv.Itoa(len(v.Content)),
		Truncate(v.Error, cellWidth),
	}
}

func statusText(code *int) string {
	if code == nil {
		return "-"
	}
	return strconv.Itoa(*code)
}

// RecordList renders stored records newest first.
type RecordList []store.Record

// Payload implements View.
func (l RecordList) Payload() any {
	if l == nil {
		return []store.Record{}
	}
	return []store.Record(l)
}

// Header implements Tabular.
func (l RecordList) Header() []string {
	return []string{"ID", "TYPE", "CREATED", "TARGET", "SUCCESS", "RATE", "TIME"}
}

// Rows implements Tabular.
func (l RecordList) Rows() [][]string {
	rows := make([][]string, 0, len(l))
	for _, rec := range l {
		target := rec.URL
		if rec.TestType == types.TestTypeProxy {
			target = rec.Credentials + " @" + rec.Port
		}
		rate := rec.SuccessRate
		if rate == "" {
			rate = "-"
		}
		rows = append(rows, []string{
			strconv.FormatInt(rec.ID, 10),
			string(rec.TestType),
			rec.CreatedAt.Local().Format(time.DateTime),
			Truncate(target, cellWidth),
			strconv.FormatBool(rec.Success),
			rate,
			rec.ResponseTime,
		})
	}
	return rows
}

// CheckView renders a proxy verification.
type CheckView struct {
	Proxy string
	Check proxy.Verification
}

// Payload implements View.
func (v CheckView) Payload() any {
	return v.Check
}

// Summary implements Summarizer.
func (v CheckView) Summary() [][2]string {
	rows := [][2]string{
		{"proxy", v.Proxy},
		{"success", strconv.FormatBool(v.Check.Success)},
	}
	if v.Check.Error != "" {
		rows = append(rows, [2]string{"error", v.Check.Error})
	}
	return rows
}

// Header implements Tabular.
func (v CheckView) Header() []string {
	return []string{"FIELD", "VALUE"}
}

// Rows implements Tabular.
func (v CheckView) Rows() [][]string {
	g := v.Check.GeoData
	if g == nil {
		return nil
	}
	var rows [][]string
	add := func(k, val string) {
		if val != "" {
			rows = append(rows, []string{k, val})
		}
	}
	add("country", g.Country)
	add("city", g.City)
	add("region", g.Region)
	add("postal code", g.PostalCode)
	if g.Latitude != "" || g.Longitude != "" {
		add("location", fmt.Sprintf("%s,%s", g.Latitude, g.Longitude))
	}
	add("timezone", g.Timezone)
	add("asn", g.ASN)
	add("organization", g.Organization)
	return rows
}

var (
	_ View       = RunView{}
	_ Summarizer = RunView{}
	_ View       = RecordList(nil)
	_ View       = CheckView{}
	_ Summarizer = CheckView{}
)
