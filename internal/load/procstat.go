package load

import (
	"bufio"
	"bytes"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// parseProcStatCPU extracts the aggregate "cpu " line from /proc/stat
// contents: user nice system idle iowait irq softirq steal ...
func parseProcStatCPU(data []byte) (cpuTimes, error) {
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "cpu ") {
			continue
		}
		fields := strings.Fields(line)[1:]
		var total, idle uint64
		for i, f := range fields {
			v, err := strconv.ParseUint(f, 10, 64)
			if err != nil {
				continue
			}
			total += v
			if i == 3 { // idle
				idle = v
			}
		}
		return cpuTimes{idle: idle, total: total}, nil
	}
	return cpuTimes{}, errors.New("load: no cpu line in /proc/stat")
}
