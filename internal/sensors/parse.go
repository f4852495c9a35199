package sensors

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v4/cpu"
	host "github.com/shirou/gopsutil/v4/sensors"
)

var ErrNoReading = errors.New("no reading")

// CPUTimes is an aggregate CPU time sample in seconds.
type CPUTimes struct {
	Busy float64
	Idle float64
}

// TimesOf folds a host sample. Busy counts user, nice, system and irq time.
func TimesOf(t cpu.TimesStat) CPUTimes {
	return CPUTimes{Busy: t.User + t.Nice + t.System + t.Irq, Idle: t.Idle}
}

// Load returns the busy percentage between two samples, truncated.
func Load(prev, curr CPUTimes) float64 {
	busy := curr.Busy - prev.Busy
	idle := curr.Idle - prev.Idle
	if busy < 0 || idle < 0 || busy+idle <= 0 {
		return 0
	}
	return float64(int(100 * busy / (busy + idle)))
}

// Temperature picks the first sensor whose key starts with key, or the
// first sensor when key is empty.
func Temperature(stats []host.TemperatureStat, key string) (float64, error) {
	for _, st := range stats {
		if key == "" || strings.HasPrefix(st.SensorKey, key) {
			return st.Temperature, nil
		}
	}
	return 0, fmt.Errorf("%w: temperature sensor %q not found", ErrNoReading, key)
}

// ParseWireless returns link quality and signal level of iface from
// /proc/net/wireless.
func ParseWireless(data []byte, iface string) (link, rssi float64, err error) {
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 4 || fields[0] != iface+":" {
			continue
		}

		link, err = strconv.ParseFloat(strings.TrimSuffix(fields[2], "."), 64)
		if err != nil {
			return 0, 0, fmt.Errorf("invalid link quality: %w", err)
		}
		rssi, err = strconv.ParseFloat(strings.TrimSuffix(fields[3], "."), 64)
		if err != nil {
			return 0, 0, fmt.Errorf("invalid signal level: %w", err)
		}
		return link, rssi, nil
	}
	return 0, 0, fmt.Errorf("%w: interface %s not listed", ErrNoReading, iface)
}
