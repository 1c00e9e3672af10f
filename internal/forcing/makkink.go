package forcing

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
)

// Makkink reference evaporation constants (De Bruin, 1987).
const (
	makkinkC1    = 0.65
	makkinkGamma = 0.66   // psychrometric constant, hPa/K
	makkinkLabda = 2.45e6 // latent heat of vaporization, J/kg
)

// VaporPressureSlope returns the slope of the saturation vapor pressure
// curve at air temperature tas in Kelvin.
func VaporPressureSlope(tas float64) float64 {
	t := tas - 273.15
	a, b, c := 6.1078, 17.294, 237.74
	return (a * b * c) / ((c + t) * (c + t)) * math.Exp(b*t/(c+t))
}

// EtMakkink returns the Makkink potential evaporation in kg m-2 s-1 for air
// temperature tas (K) and incoming shortwave radiation rsds (W m-2).
func EtMakkink(tas, rsds float64) float64 {
	s := VaporPressureSlope(tas)
	return makkinkC1 * s / (s + makkinkGamma) * rsds / makkinkLabda
}

// MakkinkPostprocessor derives potential evaporation (evspsblpot) from the
// tas and rsds series in the engine output. The two series must cover the
// same time steps.
func MakkinkPostprocessor(dir string, files map[string]string) (map[string]string, error) {
	tasFile, ok := files["tas"]
	if !ok {
		return nil, fmt.Errorf("makkink: engine output has no tas")
	}
	rsdsFile, ok := files["rsds"]
	if !ok {
		return nil, fmt.Errorf("makkink: engine output has no rsds")
	}
	times, tas, err := readSeries(filepath.Join(dir, tasFile))
	if err != nil {
		return nil, err
	}
	_, rsds, err := readSeries(filepath.Join(dir, rsdsFile))
	if err != nil {
		return nil, err
	}
	if len(tas) != len(rsds) {
		return nil, fmt.Errorf("makkink: tas has %d steps, rsds has %d", len(tas), len(rsds))
	}
	et := make([]float64, len(tas))
	for i := range tas {
		et[i] = EtMakkink(tas[i], rsds[i])
	}
	const fname = "evspsblpot.csv"
	if err := writeSeries(filepath.Join(dir, fname), "evspsblpot", times, et); err != nil {
		return nil, err
	}
	return map[string]string{"evspsblpot": fname}, nil
}

// readSeries reads a two-column (time, value) file with a header row.
func readSeries(path string) ([]string, []float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("read series %s: %w", path, err)
	}
	if len(records) < 2 {
		return nil, nil, fmt.Errorf("series %s has no data rows", path)
	}
	times := make([]string, 0, len(records)-1)
	values := make([]float64, 0, len(records)-1)
	for _, rec := range records[1:] {
		if len(rec) < 2 {
			return nil, nil, fmt.Errorf("series %s has a short row", path)
		}
		v, err := strconv.ParseFloat(rec[1], 64)
		if err != nil {
			return nil, nil, fmt.Errorf("series %s: %w", path, err)
		}
		times = append(times, rec[0])
		values = append(values, v)
	}
	return times, values, nil
}

func writeSeries(path, name string, times []string, values []float64) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	w := csv.NewWriter(f)
	if err := w.Write([]string{"time", name}); err != nil {
		return err
	}
	for i, v := range values {
		if err := w.Write([]string{times[i], strconv.FormatFloat(v, 'g', -1, 64)}); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}
