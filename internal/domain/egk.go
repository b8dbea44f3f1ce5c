package domain

// PersonalData is the content of EF.PD (UC_PersoenlicheVersichertendatenXML).
type PersonalData struct {
	CDMVersion string           `xml:"CDM_VERSION,attr" json:"cdmVersion,omitempty"`
	Insured    *PersonalInsured `xml:"Versicherter" json:"insured,omitempty"`
}

type PersonalInsured struct {
	InsurantID string  `xml:"Versicherten_ID" json:"insurantId"`
	Person     *Person `xml:"Person" json:"person,omitempty"`
}

type Person struct {
	BirthDate    string          `xml:"Geburtsdatum" json:"birthDate"`
	GivenName    string          `xml:"Vorname" json:"givenName"`
	Surname      string          `xml:"Nachname" json:"surname"`
	Sex          string          `xml:"Geschlecht" json:"sex"`
	Prefix       string          `xml:"Vorsatzwort,omitempty" json:"prefix,omitempty"`
	NameAddition string          `xml:"Namenszusatz,omitempty" json:"nameAddition,omitempty"`
	Title        string          `xml:"Titel,omitempty" json:"title,omitempty"`
	PostBoxAddr  *PostBoxAddress `xml:"PostfachAdresse" json:"postBoxAddress,omitempty"`
	StreetAddr   *StreetAddress  `xml:"StrassenAdresse" json:"streetAddress,omitempty"`
}

type PostBoxAddress struct {
	PostalCode string  `xml:"Postleitzahl,omitempty" json:"postalCode,omitempty"`
	City       string  `xml:"Ort" json:"city"`
	PostBox    string  `xml:"Postfach" json:"postBox"`
	Country    Country `xml:"Land" json:"country"`
}

type StreetAddress struct {
	PostalCode  string  `xml:"Postleitzahl,omitempty" json:"postalCode,omitempty"`
	City        string  `xml:"Ort" json:"city"`
	Country     Country `xml:"Land" json:"country"`
	Street      string  `xml:"Strasse,omitempty" json:"street,omitempty"`
	HouseNumber string  `xml:"Hausnummer,omitempty" json:"houseNumber,omitempty"`
	Addition    string  `xml:"Anschriftenzusatz,omitempty" json:"addition,omitempty"`
}

type Country struct {
	ResidenceCode string `xml:"Wohnsitzlaendercode" json:"residenceCode"`
}

// InsurerData is the content of EF.VD (UC_AllgemeineVersicherungsdatenXML).
type InsurerData struct {
	CDMVersion string          `xml:"CDM_VERSION,attr" json:"cdmVersion,omitempty"`
	Insured    *InsurerInsured `xml:"Versicherter" json:"insured,omitempty"`
}

type InsurerInsured struct {
	Coverage   *Coverage   `xml:"Versicherungsschutz" json:"coverage,omitempty"`
	Additional *Additional `xml:"Zusatzinfos" json:"additional,omitempty"`
}

type Coverage struct {
	Start   string       `xml:"Beginn" json:"start,omitempty"`
	Carrier *CostCarrier `xml:"Kostentraeger" json:"carrier,omitempty"`
}

type CostCarrier struct {
	ID          string `xml:"Kostentraegerkennung" json:"id,omitempty"`
	CountryCode string `xml:"Kostentraegerlaendercode" json:"countryCode,omitempty"`
	Name        string `xml:"Name" json:"name,omitempty"`
}

type Additional struct {
	GKV *AdditionalGKV `xml:"ZusatzinfosGKV" json:"gkv,omitempty"`
}

type AdditionalGKV struct {
	InsuranceType string `xml:"Versichertenart" json:"insuranceType,omitempty"`
	Billing       *struct {
		WOP string `xml:"WOP" json:"wop,omitempty"`
	} `xml:"Zusatzinfos_Abrechnung_GKV" json:"billing,omitempty"`
}
