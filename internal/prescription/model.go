package prescription

import (
	"github.com/cortex-x/go-cardlink-client/internal/domain"
)

// Message type names, sent in the "type" field of every message object.
const (
	TypeRequestPrescriptionList          = "requestPrescriptionList"
	TypeAvailablePrescriptionLists       = "availablePrescriptionLists"
	TypeSelectedPrescriptionList         = "selectedPrescriptionList"
	TypeSelectedPrescriptionListResponse = "selectedPrescriptionListResponse"
	TypeGenericError                     = "genericError"
)

// Discriminators of the nested polymorphic objects.
const (
	TypeMedicationPZN         = "medicationPZN"
	TypeMedicationFreeText    = "medicationFreeText"
	TypeMedicationCompounding = "medicationCompounding"
	TypeMedicationIngredient  = "medicationIngredient"
	TypeStreetAddress         = "streetAddress"
	TypePobAddress            = "pobAddress"
	TypePracticeSupply        = "practiceSupply"
	TypePrescription          = "prescription"
)

type GenericErrorResultType string

const (
	ErrorInvalidMessageData       GenericErrorResultType = "INVALID_MESSAGE_DATA"
	ErrorTIUnavailable            GenericErrorResultType = "TI_UNAVAILABLE"
	ErrorTIServiceError           GenericErrorResultType = "TI_SERVICE_ERROR"
	ErrorCardExpired              GenericErrorResultType = "CARD_EXPIRED"
	ErrorCardRevoked              GenericErrorResultType = "CARD_REVOKED"
	ErrorCardInvalid              GenericErrorResultType = "CARD_INVALID"
	ErrorCardError                GenericErrorResultType = "CARD_ERROR"
	ErrorUnsupportedEnvelope      GenericErrorResultType = "UNSUPPORTED_ENVELOPE"
	ErrorNoPrescriptionsAvailable GenericErrorResultType = "NO_PRESCRIPTIONS_AVAILABLE"
	ErrorNotFound                 GenericErrorResultType = "NOT_FOUND"
	ErrorUnknown                  GenericErrorResultType = "UNKNOWN_ERROR"
)

type SupplyOptionsType string

const (
	SupplyOnPremise SupplyOptionsType = "onPremise"
	SupplyShipment  SupplyOptionsType = "shipment"
	SupplyDelivery  SupplyOptionsType = "delivery"
)

func (s SupplyOptionsType) Valid() bool {
	switch s {
	case SupplyOnPremise, SupplyShipment, SupplyDelivery:
		return true
	}
	return false
}

// Message is one variant of the prescription message union.
type Message interface {
	MessageType() string
}

type RequestPrescriptionList struct {
	ICCSNs    []domain.Base64Bytes `json:"ICCSNs"`
	MessageID string               `json:"messageId"`
}

type AvailablePrescriptionLists struct {
	AvailablePrescriptionLists []AvailablePrescriptionList `json:"availablePrescriptionLists"`
	MessageID                  string                      `json:"messageId"`
	CorrelationID              string                      `json:"correlationId"`
}

type SelectedPrescriptionList struct {
	ICCSN                 domain.Base64Bytes `json:"ICCSN"`
	PrescriptionIndexList []string           `json:"prescriptionIndexList"`
	Version               string             `json:"version,omitempty"`
	SupplyOptionsType     SupplyOptionsType  `json:"supplyOptionsType"`
	Name                  string             `json:"name,omitempty"`
	Address               *Address           `json:"address,omitempty"`
	Hint                  string             `json:"hint,omitempty"`
	Text                  string             `json:"text,omitempty"`
	Phone                 string             `json:"phone,omitempty"`
	Mail                  string             `json:"mail,omitempty"`
	MessageID             string             `json:"messageId"`
}

type SelectedPrescriptionListResponse struct {
	Version           string            `json:"version,omitempty"`
	SupplyOptionsType SupplyOptionsType `json:"supplyOptionsType,omitempty"`
	InfoText          string            `json:"infoText,omitempty"`
	URL               string            `json:"url,omitempty"`
	PickUpCodeHR      string            `json:"pickUpCodeHr,omitempty"`
	PickUpCodeDMC     string            `json:"pickUpCodeDmc,omitempty"`
	MessageID         string            `json:"messageId"`
	CorrelationID     string            `json:"correlationId"`
}

type GenericErrorMessage struct {
	ErrorCode     GenericErrorResultType `json:"errorCode"`
	ErrorMessage  string                 `json:"errorMessage"`
	MessageID     string                 `json:"messageId"`
	CorrelationID string                 `json:"correlationId,omitempty"`
}

func (*RequestPrescriptionList) MessageType() string          { return TypeRequestPrescriptionList }
func (*AvailablePrescriptionLists) MessageType() string       { return TypeAvailablePrescriptionLists }
func (*SelectedPrescriptionList) MessageType() string         { return TypeSelectedPrescriptionList }
func (*SelectedPrescriptionListResponse) MessageType() string { return TypeSelectedPrescriptionListResponse }
func (*GenericErrorMessage) MessageType() string              { return TypeGenericError }

type AvailablePrescriptionList struct {
	ICCSN                  domain.Base64Bytes       `json:"ICCSN"`
	PrescriptionBundleList []PrescriptionBundle     `json:"prescriptionBundleList"`
	FetchErrors            []PrescriptionFetchError `json:"fetchErrors,omitempty"`
}

type PrescriptionFetchError struct {
	PrescriptionID string `json:"prescriptionId"`
	ErrorCode      string `json:"errorCode"`
	ErrorMessage   string `json:"errorMessage"`
}

type PrescriptionBundle struct {
	PrescriptionID       string       `json:"prescriptionId"`
	AccessCode           string       `json:"accessCode,omitempty"`
	Erstellungszeitpunkt string       `json:"erstellungszeitpunkt"`
	Status               string       `json:"status"`
	Krankenversicherung  *Coverage    `json:"krankenversicherung,omitempty"`
	PkvTarif             string       `json:"pkvTarif,omitempty"`
	Patient              *Patient     `json:"patient,omitempty"`
	Arzt                 Practitioner `json:"arzt"`
	Pruefnummer          string       `json:"pruefnummer,omitempty"`
	Organisation         Organization `json:"organisation"`
	AsvTn                string       `json:"asvTn,omitempty"`
	Verordnung           *Verordnung  `json:"verordnung,omitempty"`
	Arzneimittel         Medication   `json:"arzneimittel"`
}

type Coverage struct {
	Kostentraegertyp        string `json:"kostentraegertyp"`
	IKKrankenkasse          string `json:"ikKrankenkasse"`
	IKKostentraeger         string `json:"ikKostentraeger,omitempty"`
	Kostentraeger           string `json:"kostentraeger,omitempty"`
	WOP                     string `json:"wop,omitempty"`
	Versichertenstatus      string `json:"versichertenstatus,omitempty"`
	BesonderePersonengruppe string `json:"besonderePersonengruppe,omitempty"`
	DMPKz                   string `json:"dmpKz,omitempty"`
	VersicherungsschutzEnde string `json:"versicherungsschutzEnde,omitempty"`
}

type Patient struct {
	GKVVersichertenID     string   `json:"gkvVersichertenId,omitempty"`
	PKVVersichertenID     string   `json:"pkvVersichertenId,omitempty"`
	KVKVersichertennummer string   `json:"kvkVersichertennummer,omitempty"`
	Person                Person   `json:"person"`
	Geburtsdatum          string   `json:"geburtsdatum"`
	Adresse               *Address `json:"adresse,omitempty"`
}

type Person struct {
	Vorname      string `json:"vorname"`
	Name         string `json:"name,omitempty"`
	Titel        string `json:"titel,omitempty"`
	Namenszusatz string `json:"namenszusatz,omitempty"`
	Vorsatzwort  string `json:"vorsatzwort,omitempty"`
}

type Practitioner struct {
	Typ                   string        `json:"typ"`
	Berufsbezeichnung     string        `json:"berufsbezeichnung,omitempty"`
	AsvFgn                string        `json:"asvFgn,omitempty"`
	Arztnummer            string        `json:"arztnummer,omitempty"`
	Zahnarztnummer        string        `json:"zahnarztnummer,omitempty"`
	TelematikID           string        `json:"telematikId,omitempty"`
	Person                Person        `json:"person"`
	VerantwortlichePerson *Practitioner `json:"verantwortlichePerson,omitempty"`
}

type Organization struct {
	BSNR           string   `json:"bsnr,omitempty"`
	IKNummer       string   `json:"ikNummer,omitempty"`
	KzvAn          string   `json:"kzvAn,omitempty"`
	Standortnummer string   `json:"standortnummer,omitempty"`
	TelematikID    string   `json:"telematikId,omitempty"`
	Name           string   `json:"name,omitempty"`
	Address        *Address `json:"address,omitempty"`
	Telefon        string   `json:"telefon,omitempty"`
	Fax            string   `json:"fax,omitempty"`
	EMail          string   `json:"eMail,omitempty"`
}

// Address is either a street address or a post office box, told apart by
// Type.
type Address struct {
	Type       string `json:"type,omitempty"`
	Land       string `json:"land,omitempty"`
	PLZ        string `json:"plz"`
	Ort        string `json:"ort"`
	Strasse    string `json:"strasse,omitempty"`
	Hausnummer string `json:"hausnummer,omitempty"`
	Zusatz     string `json:"zusatz,omitempty"`
	Postfach   string `json:"postfach,omitempty"`
}

// NewStreetAddress builds the address variant used when selecting a delivery.
func NewStreetAddress(plz, ort, strasse, hausnummer string) *Address {
	return &Address{Type: TypeStreetAddress, PLZ: plz, Ort: ort, Strasse: strasse, Hausnummer: hausnummer}
}

// Verordnung is either a practice supply or a prescription, told apart by
// Type.
type Verordnung struct {
	Type string `json:"type"`

	// practiceSupply
	Datum            string `json:"datum,omitempty"`
	Kostentraegertyp string `json:"kostentraegertyp,omitempty"`
	IKNummer         string `json:"ikNummer,omitempty"`
	Name             string `json:"name,omitempty"`

	// shared
	Anzahl        *int   `json:"anzahl,omitempty"`
	AnzahlEinheit string `json:"anzahlEinheit,omitempty"`

	// prescription
	Ausstellungsdatum  string `json:"ausstellungsdatum,omitempty"`
	Noctu              *bool  `json:"noctu,omitempty"`
	SerKennzeichen     *bool  `json:"serKennzeichen,omitempty"`
	BVG                *bool  `json:"bvg,omitempty"`
	VerschreiberID     string `json:"verschreiberID,omitempty"`
	Zuzahlungsstatus   string `json:"zuzahlungsstatus,omitempty"`
	Autidem            *bool  `json:"autidem,omitempty"`
	Abgabehinweis      string `json:"abgabehinweis,omitempty"`
	Dosierung          *bool  `json:"dosierung,omitempty"`
	Dosieranweisung    string `json:"dosieranweisung,omitempty"`
	Gebrauchsanweisung string `json:"gebrauchsanweisung,omitempty"`
	Unfallkennzeichen  string `json:"unfallkennzeichen,omitempty"`
	Unfalltag          string `json:"unfalltag,omitempty"`
	Unfallbetrieb      string `json:"unfallbetrieb,omitempty"`
	Mehrfachverordnung *bool  `json:"mehrfachverordnung,omitempty"`
	MfvID              string `json:"mfvId,omitempty"`
	MfvZaehler         *int   `json:"mfvZaehler,omitempty"`
	MfvNenner          *int   `json:"mfvNenner,omitempty"`
	MfvBeginn          string `json:"mfvBeginn,omitempty"`
	MfvEnde            string `json:"mfvEnde,omitempty"`
}

type Medication struct {
	MedicationItem []MedicationItem `json:"medicationItem"`
}

// MedicationItem carries the fields of all four medication variants; Type
// names the one that applies.
type MedicationItem struct {
	Type             string `json:"type"`
	Kategorie        string `json:"kategorie"`
	Impfstoff        bool   `json:"impfstoff"`
	Darreichungsform string `json:"darreichungsform,omitempty"`
	Einheit          string `json:"einheit,omitempty"`

	// medicationPZN and medicationIngredient
	Normgroesse                     string `json:"normgroesse,omitempty"`
	PackungsgroesseNachMenge        string `json:"packungsgroesseNachMenge,omitempty"`
	PackungsgroesseNachNBezeichnung string `json:"packungsgroesseNachNBezeichnung,omitempty"`

	// medicationPZN
	PZN         string `json:"pzn,omitempty"`
	Handelsname string `json:"handelsname,omitempty"`

	// medicationFreeText
	Freitextverordnung string `json:"freitextverordnung,omitempty"`

	// medicationCompounding
	Herstellungsanweisung              string                          `json:"herstellungsanweisung,omitempty"`
	Verpackung                         string                          `json:"verpackung,omitempty"`
	Rezepturname                       string                          `json:"rezepturname,omitempty"`
	Gesamtmenge                        string                          `json:"gesamtmenge,omitempty"`
	ListeBestandteilRezepturverordnung []BestandteilRezepturverordnung `json:"listeBestandteilRezepturverordnung,omitempty"`

	// medicationIngredient
	ListeBestandteilWirkstoffverordnung []BestandteilWirkstoffverordnung `json:"listeBestandteilWirkstoffverordnung,omitempty"`
}

type BestandteilWirkstoffverordnung struct {
	Wirkstoffnummer     string `json:"wirkstoffnummer"`
	Wirkstoffname       string `json:"wirkstoffname"`
	Wirkstaerke         string `json:"wirkstaerke"`
	Wirkstaerkeneinheit string `json:"wirkstaerkeneinheit"`
}

type BestandteilRezepturverordnung struct {
	Darreichungsform string `json:"darreichungsform,omitempty"`
	Name             string `json:"name"`
	PZN              string `json:"pzn,omitempty"`
	Menge            string `json:"menge,omitempty"`
	Einheit          string `json:"einheit,omitempty"`
	MengeUndEinheit  string `json:"mengeUndEinheit,omitempty"`
}
