package message

import (
	"fmt"
	"strings"
)

// Jurisdiction identifies a participating jurisdiction by its ISO 3166-1
// alpha-2 code.
type Jurisdiction string

// alpha2 holds the officially assigned ISO 3166-1 alpha-2 codes.
var alpha2 = func() map[Jurisdiction]struct{} {
	codes := strings.Fields(`
		AD AE AF AG AI AL AM AO AQ AR AS AT AU AW AX AZ BA BB BD BE BF BG BH
		BI BJ BL BM BN BO BQ BR BS BT BV BW BY BZ CA CC CD CF CG CH CI CK CL
		CM CN CO CR CU CV CW CX CY CZ DE DJ DK DM DO DZ EC EE EG EH ER ES ET
		FI FJ FK FM FO FR GA GB GD GE GF GG GH GI GL GM GN GP GQ GR GS GT GU
		GW GY HK HM HN HR HT HU ID IE IL IM IN IO IQ IR IS IT JE JM JO JP KE
		KG KH KI KM KN KP KR KW KY KZ LA LB LC LI LK LR LS LT LU LV LY MA MC
		MD ME MF MG MH MK ML MM MN MO MP MQ MR MS MT MU MV MW MX MY MZ NA NC
		NE NF NG NI NL NO NP NR NU NZ OM PA PE PF PG PH PK PL PM PN PR PS PT
		PW PY QA RE RO RS RU RW SA SB SC SD SE SG SH SI SJ SK SL SM SN SO SR
		SS ST SV SX SY SZ TC TD TF TG TH TJ TK TL TM TN TO TR TT TV TW TZ UA
		UG UM US UY UZ VA VC VE VG VI VN VU WF WS YE YT ZA ZM ZW`)
	set := make(map[Jurisdiction]struct{}, len(codes))
	for _, c := range codes {
		set[Jurisdiction(c)] = struct{}{}
	}
	return set
}()

// ParseJurisdiction validates s as an assigned uppercase alpha-2 code.
func ParseJurisdiction(s string) (Jurisdiction, error) {
	j := Jurisdiction(s)
	if err := j.Validate(); err != nil {
		return "", err
	}
	return j, nil
}

// Validate rejects anything that is not an assigned uppercase alpha-2 code.
func (j Jurisdiction) Validate() error {
	if len(j) != 2 || strings.ToUpper(string(j)) != string(j) {
		return fmt.Errorf("jurisdiction %q is not a 2-character uppercase code", string(j))
	}
	if _, ok := alpha2[j]; !ok {
		return fmt.Errorf("unknown jurisdiction %q", string(j))
	}
	return nil
}

// IsValid reports whether j is an assigned alpha-2 code.
func (j Jurisdiction) IsValid() bool {
	return j.Validate() == nil
}

func (j Jurisdiction) String() string {
	return string(j)
}
