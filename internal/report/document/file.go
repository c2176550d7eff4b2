// Package document assembles and parses the canonical audit-file XML.
package document

import "encoding/xml"

const (
	Namespace    = "http://crd.gov.pl/wzor/2021/12/27/11148/"
	FormCode     = "JPK_VAT"
	SchemaVer    = "1-0E"
	FormVariant  = "2"
	PurposeFirst = "1"
	PurposeFix   = "2"
)

// File is the root element.
type File struct {
	XMLName     xml.Name     `xml:"JPK"`
	Xmlns       string       `xml:"xmlns,attr,omitempty"`
	Header      Header       `xml:"Naglowek"`
	Filer       Filer        `xml:"Podmiot1"`
	Declaration *Declaration `xml:"Deklaracja,omitempty"`
	Registry    Registry     `xml:"Ewidencja"`
}

type FormCodeElem struct {
	SystemCode    string `xml:"kodSystemowy,attr"`
	SchemaVersion string `xml:"wersjaSchemy,attr"`
	Value         string `xml:",chardata"`
}

type Header struct {
	FormCode    FormCodeElem `xml:"KodFormularza"`
	Variant     string       `xml:"WariantFormularza"`
	CreatedAt   string       `xml:"DataWytworzeniaJPK"`
	SystemName  string       `xml:"NazwaSystemu"`
	Purpose     string       `xml:"CelZlozenia"`
	Year        int          `xml:"Rok"`
	Month       int          `xml:"Miesiac,omitempty"`
	Quarter     int          `xml:"Kwartal,omitempty"`
	Correction  int          `xml:"NumerKorekty,omitempty"`
	Description string       `xml:"PrzyczynaKorekty,omitempty"`
}

type Filer struct {
	Role     string `xml:"rola,attr"`
	TaxID    string `xml:"OsobaNiefizyczna>NIP"`
	FullName string `xml:"OsobaNiefizyczna>PelnaNazwa"`
}

type Declaration struct {
	Positions Positions `xml:"PozycjeSzczegolowe"`
}

// Positions holds the declaration fields as <P_xx> elements.
type Positions struct {
	Fields []Flag `xml:",any"`
}

// Flag is an element with a dynamic name, such as <GTU_01>1</GTU_01> or
// <P_38>1200</P_38>.
type Flag struct {
	XMLName xml.Name
	Value   string   `xml:",chardata"`
}

type Registry struct {
	Sales        []SaleRow     `xml:"SprzedazWiersz"`
	SaleCtrl     SaleCtrl      `xml:"SprzedazCtrl"`
	Purchases    []PurchaseRow `xml:"ZakupWiersz"`
	PurchaseCtrl PurchaseCtrl  `xml:"ZakupCtrl"`
}

type SaleRow struct {
	Lp              int    `xml:"LpSprzedazy"`
	CountryCode     string `xml:"KodKrajuNadaniaTIN,omitempty"`
	CounterpartID   string `xml:"NrKontrahenta"`
	CounterpartName string `xml:"NazwaKontrahenta"`
	DocumentNumber  string `xml:"DowodSprzedazy"`
	IssueDate       string `xml:"DataWystawienia"`
	SaleDate        string `xml:"DataSprzedazy,omitempty"`
	Flags           []Flag `xml:",any"`
	K10             string `xml:"K_10,omitempty"`
	K13             string `xml:"K_13,omitempty"`
	K15             string `xml:"K_15,omitempty"`
	K16             string `xml:"K_16,omitempty"`
	K17             string `xml:"K_17,omitempty"`
	K18             string `xml:"K_18,omitempty"`
	K19             string `xml:"K_19,omitempty"`
	K20             string `xml:"K_20,omitempty"`
}

type SaleCtrl struct {
	Rows int    `xml:"LiczbaWierszySprzedazy"`
	Tax  string `xml:"PodatekNalezny"`
}

type PurchaseRow struct {
	Lp              int    `xml:"LpZakupu"`
	CountryCode     string `xml:"KodKrajuNadaniaTIN,omitempty"`
	CounterpartID   string `xml:"NrDostawcy"`
	CounterpartName string `xml:"NazwaDostawcy"`
	DocumentNumber  string `xml:"DowodZakupu"`
	PurchaseDate    string `xml:"DataZakupu"`
	ReceiptDate     string `xml:"DataWplywu,omitempty"`
	Flags           []Flag `xml:",any"`
	K42             string `xml:"K_42,omitempty"`
	K43             string `xml:"K_43,omitempty"`
}

type PurchaseCtrl struct {
	Rows int    `xml:"LiczbaWierszyZakupow"`
	Tax  string `xml:"PodatekNaliczony"`
}
