package influx

import (
	"strings"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/bardlex/gominer/internal/miner"
	"github.com/bardlex/gominer/internal/report"
)

func TestStatsPoint(t *testing.T) {
	usage := 12.5
	at := time.Unix(1700000000, 0)
	p := StatsPoint(miner.Stats{
		Hashrate:    2500,
		TotalHashes: 10000,
		Accepted:    3,
		Rejected:    1,
		Uptime:      4 * time.Second,
		Threads:     2,
		CPUUsage:    &usage,
	}, map[string]string{"host": "rig1"}, at)

	line := write.PointToLineProtocol(p, time.Second)
	for _, want := range []string{
		"miner_stats,host=rig1 ",
		"hashrate=2500",
		"accepted=3u",
		"rejected=1u",
		"cpu_usage=12.5",
		" 1700000000",
	} {
		if !strings.Contains(line, want) {
			t.Errorf("line protocol %q missing %q", line, want)
		}
	}
	if strings.Contains(line, "cpu_temp") {
		t.Errorf("absent temperature written: %q", line)
	}
}

func TestSharePoint(t *testing.T) {
	tags := map[string]string{"host": "rig1"}
	p := SharePoint(report.ShareRecord{
		JobID:   "job-1",
		Worker:  3,
		Nonce:   "000000000000002a",
		Status:  report.ShareSubmitted,
		FoundAt: time.Unix(1700000001, 0),
	}, tags)

	line := write.PointToLineProtocol(p, time.Second)
	for _, want := range []string{"shares,", "status=submitted", "worker=3", `job_id="job-1"`, " 1700000001"} {
		if !strings.Contains(line, want) {
			t.Errorf("line protocol %q missing %q", line, want)
		}
	}
	if len(tags) != 1 {
		t.Errorf("shared tag map was modified: %v", tags)
	}
}

func TestHashrateQuery(t *testing.T) {
	q := hashrateQuery("mining", time.Hour)
	for _, want := range []string{`from(bucket: "mining")`, "range(start: -1h0m0s)", `"miner_stats"`} {
		if !strings.Contains(q, want) {
			t.Errorf("query missing %q:\n%s", want, q)
		}
	}
}
