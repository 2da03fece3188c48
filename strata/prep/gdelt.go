package prep

import "github.com/substrat-io/strata/strata"

// EventSchema returns the GDELT Events 1.0 schema with all 58 columns in
// the published order. Raw event files carry no header row, so the column
// names here double as the field order for TSV parsing.
//
// Every column is nullable. Raw GDELT data routinely omits actor codes,
// geo fields, and even numeric cells, and coercion failures become nulls
// rather than dropped rows.
func EventSchema() strata.Schema {
	cols := make([]strata.Column, 0, len(eventColumns))
	for _, name := range eventColumns {
		cols = append(cols, strata.Column{
			Name:     name,
			Kind:     eventKinds[name],
			Nullable: true,
		})
	}
	return strata.Schema{Columns: cols}
}

// eventColumns lists the GDELT Events 1.0 fields in file order.
var eventColumns = []string{
	"GlobalEventID",
	"Day",
	"MonthYear",
	"Year",
	"FractionDate",
	"Actor1Code",
	"Actor1Name",
	"Actor1CountryCode",
	"Actor1KnownGroupCode",
	"Actor1EthnicCode",
	"Actor1Religion1Code",
	"Actor1Religion2Code",
	"Actor1Type1Code",
	"Actor1Type2Code",
	"Actor1Type3Code",
	"Actor2Code",
	"Actor2Name",
	"Actor2CountryCode",
	"Actor2KnownGroupCode",
	"Actor2EthnicCode",
	"Actor2Religion1Code",
	"Actor2Religion2Code",
	"Actor2Type1Code",
	"Actor2Type2Code",
	"Actor2Type3Code",
	"IsRootEvent",
	"EventCode",
	"EventBaseCode",
	"EventRootCode",
	"QuadClass",
	"GoldsteinScale",
	"NumMentions",
	"NumSources",
	"NumArticles",
	"AvgTone",
	"Actor1Geo_Type",
	"Actor1Geo_Fullname",
	"Actor1Geo_CountryCode",
	"Actor1Geo_ADM1Code",
	"Actor1Geo_Lat",
	"Actor1Geo_Long",
	"Actor1Geo_FeatureID",
	"Actor2Geo_Type",
	"Actor2Geo_Fullname",
	"Actor2Geo_CountryCode",
	"Actor2Geo_ADM1Code",
	"Actor2Geo_Lat",
	"Actor2Geo_Long",
	"Actor2Geo_FeatureID",
	"ActionGeo_Type",
	"ActionGeo_Fullname",
	"ActionGeo_CountryCode",
	"ActionGeo_ADM1Code",
	"ActionGeo_Lat",
	"ActionGeo_Long",
	"ActionGeo_FeatureID",
	"DATEADDED",
	"SOURCEURL",
}

// eventKinds maps numeric columns to their kinds. Columns absent from the
// map are strings.
var eventKinds = map[string]strata.Kind{
	"GlobalEventID":  strata.KindInt64,
	"Day":            strata.KindInt64,
	"MonthYear":      strata.KindInt64,
	"Year":           strata.KindInt64,
	"FractionDate":   strata.KindFloat64,
	"IsRootEvent":    strata.KindInt64,
	"QuadClass":      strata.KindInt64,
	"GoldsteinScale": strata.KindFloat64,
	"NumMentions":    strata.KindInt64,
	"NumSources":     strata.KindInt64,
	"NumArticles":    strata.KindInt64,
	"AvgTone":        strata.KindFloat64,
	"Actor1Geo_Type": strata.KindInt64,
	"Actor1Geo_Lat":  strata.KindFloat64,
	"Actor1Geo_Long": strata.KindFloat64,
	"Actor2Geo_Type": strata.KindInt64,
	"Actor2Geo_Lat":  strata.KindFloat64,
	"Actor2Geo_Long": strata.KindFloat64,
	"ActionGeo_Type": strata.KindInt64,
	"ActionGeo_Lat":  strata.KindFloat64,
	"ActionGeo_Long": strata.KindFloat64,
	"DATEADDED":      strata.KindInt64,
}
