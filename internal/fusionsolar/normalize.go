package fusionsolar

import (
	"strconv"
	"strings"

	masterdata "fusionbridge/internal/masterdata/domain"
)

// The vendor renames fields across plant types, firmware versions and API
// revisions. Candidate key lists are data, not code branches: new variants
// are additive.
var (
	stationCodeKeys = []string{"plantCode", "stationCode", "station_code", "stationDn", "code", "id"}
	plantCodeKeys   = []string{"stationCode", "plantCode", "plant_code", "stationDn", "code", "id"}
	stationNameKeys = []string{"plantName", "stationName", "station_name", "plant_name", "name"}
	capacityKeys    = []string{"capacity", "installedCapacity", "installed_capacity", "totalCapacity"}
	addressKeys     = []string{"plantAddress", "stationAddr", "station_address", "plant_address", "address"}

	powerKeys = []string{
		"real_power", "realPower", "active_power", "activePower", "power",
		"current_power", "currentPower", "instant_power", "instantPower",
		"realtime_power", "realtimePower", "grid_power", "inverter_power",
	}

	// DailyEnergyKeys and friends are exported so the device-level fallback
	// and tests share one source of truth.
	DailyEnergyKeys    = []string{"day_power", "dayPower", "daily_power", "today_power"}
	MonthlyEnergyKeys  = []string{"month_power", "monthPower", "monthly_power"}
	YearlyEnergyKeys   = []string{"year_power", "yearPower", "yearly_power", "annual_power"}
	LifetimeEnergyKeys = []string{"total_power", "totalPower", "lifetime_power", "cumulative_power"}
)

// regionMarkers maps a recognizable country token inside an address field to
// a region label.
var regionMarkers = map[string]string{
	"ukraine":     "Ukraine",
	"україна":     "Ukraine",
	"poland":      "Poland",
	"polska":      "Poland",
	"germany":     "Germany",
	"deutschland": "Germany",
	"spain":       "Spain",
	"españa":      "Spain",
	"italy":       "Italy",
	"italia":      "Italy",
	"romania":     "Romania",
	"netherlands": "Netherlands",
}

// StationIdentity is the canonical form of one discovered station record.
type StationIdentity struct {
	StationCode string
	PlantCode   string
	Name        string
	CapacityKW  float64
	Region      string
}

// ExtractStationList locates the station array in a decoded listing body.
// Known envelopes: data as a raw array, or data.list / data.stations /
// data.items. An unknown shape yields an empty list; the pagination loop
// treats that as "no more pages", never as a crash.
func ExtractStationList(body map[string]any) []map[string]any {
	if body == nil {
		return nil
	}
	data, ok := body["data"]
	if !ok || data == nil {
		return nil
	}
	if list, ok := toRecordList(data); ok {
		return list
	}
	wrapper, ok := data.(map[string]any)
	if !ok {
		return nil
	}
	for _, key := range []string{"list", "stations", "items"} {
		if list, ok := toRecordList(wrapper[key]); ok {
			return list
		}
	}
	return nil
}

// ExtractStationIdentity resolves the canonical identity of one record.
// Returns ok=false when no candidate key yields a non-empty station code;
// the caller skips and logs, never throws.
func ExtractStationIdentity(record map[string]any) (StationIdentity, bool) {
	code := firstString(record, stationCodeKeys)
	if code == "" {
		return StationIdentity{}, false
	}
	plantCode := firstString(record, plantCodeKeys)
	if plantCode == "" {
		plantCode = code
	}
	name := firstString(record, stationNameKeys)
	if name == "" {
		name = "Unnamed station"
	}
	capacity, _ := extractByPriority(record, capacityKeys, 0.0)
	if capacity < 0 {
		capacity = 0
	}
	return StationIdentity{
		StationCode: code,
		PlantCode:   plantCode,
		Name:        name,
		CapacityKW:  capacity,
		Region:      extractRegion(record),
	}, true
}

// ExtractKpiRecords maps station code to a flattened KPI map for a combined
// getStationRealKpi response. Contents of a dataItemMap wrapper win over the
// record's own top-level fields.
func ExtractKpiRecords(body map[string]any) map[string]map[string]any {
	out := make(map[string]map[string]any)
	for _, record := range ExtractStationList(body) {
		code := firstString(record, stationCodeKeys)
		if code == "" {
			continue
		}
		out[code] = flattenKpi(record)
	}
	return out
}

// ExtractDeviceKpiList returns the flattened KPI maps of a device KPI response.
func ExtractDeviceKpiList(body map[string]any) []map[string]any {
	records := ExtractStationList(body)
	out := make([]map[string]any, 0, len(records))
	for _, record := range records {
		out = append(out, flattenKpi(record))
	}
	return out
}

// ExtractDeviceIDs returns device ids from a getDevList response. When type
// information is present only inverters are kept (vendor type ids 1 and 38);
// untyped records are kept as-is.
func ExtractDeviceIDs(body map[string]any) []string {
	var ids []string
	for _, record := range ExtractStationList(body) {
		if raw, ok := record["devTypeId"]; ok {
			if typeID, ok := asInt(raw); ok && typeID != 1 && typeID != 38 {
				continue
			}
		}
		if id := firstString(record, []string{"id", "devId", "devDn"}); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

func flattenKpi(record map[string]any) map[string]any {
	kpi := make(map[string]any, len(record))
	for k, v := range record {
		if k == "dataItemMap" {
			continue
		}
		kpi[k] = v
	}
	if inner, ok := record["dataItemMap"].(map[string]any); ok {
		for k, v := range inner {
			kpi[k] = v
		}
	}
	return kpi
}

// ExtractCurrentPower returns the first positive value under any known power
// alias, or 0 when none parses positive. First-positive-match avoids spurious
// zero readings when one alias is merely absent.
func ExtractCurrentPower(kpi map[string]any) float64 {
	for _, key := range powerKeys {
		if raw, ok := kpi[key]; ok {
			if v, ok := asFloat(raw); ok && v > 0 {
				return v
			}
		}
	}
	return 0
}

// ExtractEnergy is the generic safe-float extraction by key priority, used
// for the daily/monthly/yearly/lifetime metrics.
func ExtractEnergy(kpi map[string]any, candidates []string, def float64) float64 {
	v, _ := extractByPriority(kpi, candidates, def)
	return v
}

// DetermineStatus derives the station status from a KPI map. Vendor health
// codes 1 and 2 mean a fault; code 3 means connected. Daily energy takes
// priority over instantaneous power: a station can read zero power at query
// time yet have produced energy earlier in the day.
func DetermineStatus(currentPower float64, kpi map[string]any) masterdata.StationStatus {
	producing := currentPower > 0 || ExtractEnergy(kpi, DailyEnergyKeys, 0) > 0

	if raw, ok := kpi["real_health_state"]; ok {
		if health, ok := asInt(raw); ok {
			switch health {
			case 1, 2:
				return masterdata.StatusError
			case 3:
				if producing {
					return masterdata.StatusActive
				}
				return masterdata.StatusInactive
			}
		}
	}
	if producing {
		return masterdata.StatusActive
	}
	return masterdata.StatusInactive
}

// extractByPriority tries candidate keys in order and returns the first
// float-coercible value. The second return reports whether any key matched.
func extractByPriority(m map[string]any, candidates []string, def float64) (float64, bool) {
	for _, key := range candidates {
		if raw, ok := m[key]; ok {
			if v, ok := asFloat(raw); ok {
				return v, true
			}
		}
	}
	return def, false
}

func extractRegion(record map[string]any) string {
	address := strings.ToLower(firstString(record, addressKeys))
	if address == "" {
		return ""
	}
	for marker, region := range regionMarkers {
		if strings.Contains(address, marker) {
			return region
		}
	}
	return ""
}

func toRecordList(value any) ([]map[string]any, bool) {
	raw, ok := value.([]any)
	if !ok {
		return nil, false
	}
	records := make([]map[string]any, 0, len(raw))
	for _, item := range raw {
		if record, ok := item.(map[string]any); ok {
			records = append(records, record)
		}
	}
	return records, true
}

func firstString(m map[string]any, candidates []string) string {
	for _, key := range candidates {
		raw, ok := m[key]
		if !ok || raw == nil {
			continue
		}
		switch v := raw.(type) {
		case string:
			if trimmed := strings.TrimSpace(v); trimmed != "" {
				return trimmed
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		case int:
			return strconv.Itoa(v)
		case int64:
			return strconv.FormatInt(v, 10)
		}
	}
	return ""
}

func asFloat(raw any) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}

func asInt(raw any) (int, bool) {
	if v, ok := asFloat(raw); ok {
		return int(v), true
	}
	return 0, false
}
