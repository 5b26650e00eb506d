package sifen

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/beevik/etree"
	"github.com/shopspring/decimal"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/gestlog/logistica-api/internal/domain/entity"
	"github.com/gestlog/logistica-api/internal/domain/fiscal"
)

// Namespaces y versión del esquema rDE.
const (
	nsSifen           = "http://ekuatia.set.gov.py/sifen/xsd"
	nsXsi             = "http://www.w3.org/2001/XMLSchema-instance"
	schemaLocationRDE = "http://ekuatia.set.gov.py/sifen/xsd siRecepDE_v150.xsd"
	formatVersion     = "150"
)

// URLs de consulta pública del documento (QR).
const (
	qrURLPruebas    = "https://ekuatia.set.gov.py/consultas-test/qr?cdc="
	qrURLProduccion = "https://ekuatia.set.gov.py/consultas/qr?cdc="
)

// DocumentBuilderService congela una factura emitida en su representación
// canónica: XML rDE, CDC y payload QR. Función pura de la factura, sus líneas
// y la identidad del emisor; no muta la factura.
type DocumentBuilderService struct {
	cdcCalc *fiscal.CDCCalculator
}

// NewDocumentBuilderService crea el servicio.
func NewDocumentBuilderService() *DocumentBuilderService {
	return &DocumentBuilderService{cdcCalc: fiscal.NewCDCCalculator()}
}

// Freeze produce el snapshot inmutable de una factura en estado ISSUED o
// SUBMITTED. El XML retornado aún no está firmado: la firma la aplica el
// colaborador Signer antes del envío.
func (s *DocumentBuilderService) Freeze(inv *entity.Invoice, lines []*entity.InvoiceLine, issuer IssuerParams) (*DocumentSnapshot, error) {
	if inv == nil {
		return nil, fmt.Errorf("sifen: factura requerida")
	}
	if inv.State != entity.StateIssued && inv.State != entity.StateSubmitted {
		return nil, fmt.Errorf("sifen: solo se congela una factura ISSUED o SUBMITTED, estado actual: %s", inv.State)
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("sifen: la factura no tiene líneas")
	}
	if issuer.RUC == "" || issuer.Timbrado == "" {
		return nil, fmt.Errorf("sifen: RUC y timbrado del emisor son obligatorios")
	}

	fecEmision := inv.IssueDate.Format("2006-01-02")
	cdc, err := s.cdcCalc.Calculate(&fiscal.CDCParams{
		NumDoc:      inv.DocumentNumber(),
		FecEmision:  fecEmision,
		Subtotal:    inv.Subtotal,
		IVA5:        inv.Tax5,
		IVA10:       inv.Tax10,
		Total:       inv.GrandTotal,
		RUCEmisor:   issuer.RUC,
		RUCReceptor: inv.ClientRUC,
		Timbrado:    issuer.Timbrado,
		CSC:         issuer.CSC,
		Ambiente:    issuer.Environment,
	})
	if err != nil {
		return nil, fmt.Errorf("sifen: calcular CDC: %w", err)
	}

	qrData := buildQRData(inv, cdc, issuer.Environment)

	xmlBytes, err := s.buildXML(inv, lines, issuer, cdc, qrData)
	if err != nil {
		return nil, fmt.Errorf("sifen: generar rDE: %w", err)
	}

	return &DocumentSnapshot{
		InvoiceID:      inv.ID,
		DocumentNumber: inv.DocumentNumber(),
		CDC:            cdc,
		QRData:         qrData,
		IssueDate:      inv.IssueDate,
		Currency:       inv.Currency,
		Subtotal:       inv.Subtotal,
		TaxTotal:       inv.TaxTotal,
		GrandTotal:     inv.GrandTotal,
		XML:            xmlBytes,
		Filename:       documentFilename(issuer.RUC, inv),
	}, nil
}

// buildXML arma el rDE con etree. El nodo DE lleva Id=CDC; la firma se inyecta
// después como último hijo de rDE (Reference URI "#"+CDC).
func (s *DocumentBuilderService) buildXML(inv *entity.Invoice, lines []*entity.InvoiceLine, issuer IssuerParams, cdc, qrData string) ([]byte, error) {
	exp := fiscal.MinorUnitExponent(inv.Currency)
	amount := func(d decimal.Decimal) string { return d.StringFixed(exp) }

	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	rde := doc.CreateElement("rDE")
	rde.CreateAttr("xmlns", nsSifen)
	rde.CreateAttr("xmlns:xsi", nsXsi)
	rde.CreateAttr("xsi:schemaLocation", schemaLocationRDE)
	rde.CreateElement("dVerFor").SetText(formatVersion)

	de := rde.CreateElement("DE")
	de.CreateAttr("Id", cdc)

	// Timbrado y numeración legal
	gTimb := de.CreateElement("gTimb")
	gTimb.CreateElement("iTipDE").SetText("1") // factura electrónica
	gTimb.CreateElement("dNumTim").SetText(issuer.Timbrado)
	gTimb.CreateElement("dEst").SetText(inv.Establecimiento)
	gTimb.CreateElement("dPunExp").SetText(inv.PuntoExpedicion)
	gTimb.CreateElement("dNumDoc").SetText(fmt.Sprintf("%07d", inv.Numero))

	// Datos generales de la operación
	gDatGralOpe := de.CreateElement("gDatGralOpe")
	gDatGralOpe.CreateElement("dFeEmiDE").SetText(inv.IssueDate.Format("2006-01-02T15:04:05"))

	gOpeCom := gDatGralOpe.CreateElement("gOpeCom")
	condOpe := "1"
	if inv.Kind == entity.KindCredit {
		condOpe = "2"
	}
	gOpeCom.CreateElement("iCondOpe").SetText(condOpe)
	gOpeCom.CreateElement("cMoneOpe").SetText(inv.Currency)

	gEmis := gDatGralOpe.CreateElement("gEmis")
	rucBase, dv := splitRUC(issuer.RUC)
	gEmis.CreateElement("dRucEm").SetText(rucBase)
	gEmis.CreateElement("dDVEmi").SetText(dv)
	gEmis.CreateElement("dNomEmi").SetText(asciiFold(issuer.LegalName))
	if issuer.Address != "" {
		gEmis.CreateElement("dDirEmi").SetText(asciiFold(issuer.Address))
	}

	gDatRec := gDatGralOpe.CreateElement("gDatRec")
	recBase, recDV := splitRUC(inv.ClientRUC)
	gDatRec.CreateElement("dRucRec").SetText(recBase)
	gDatRec.CreateElement("dDVRec").SetText(recDV)
	gDatRec.CreateElement("dNomRec").SetText(asciiFold(inv.ClientName))

	// Detalle de ítems
	gDtipDE := de.CreateElement("gDtipDE")
	for _, line := range lines {
		gCamItem := gDtipDE.CreateElement("gCamItem")
		if line.ExternalCode != "" {
			gCamItem.CreateElement("dCodInt").SetText(line.ExternalCode)
		}
		gCamItem.CreateElement("dDesProSer").SetText(asciiFold(line.Description))
		gCamItem.CreateElement("cUniMed").SetText(line.UnitMeasure)
		gCamItem.CreateElement("dCantProSer").SetText(line.Quantity.String())

		gValorItem := gCamItem.CreateElement("gValorItem")
		gValorItem.CreateElement("dPUniProSer").SetText(amount(line.UnitPrice))
		gValorItem.CreateElement("dTotOpeItem").SetText(amount(line.Subtotal))

		gCamIVA := gCamItem.CreateElement("gCamIVA")
		gCamIVA.CreateElement("dTasaIVA").SetText(fmt.Sprintf("%d", line.TaxRate))
		gCamIVA.CreateElement("dLiqIVAItem").SetText(amount(line.TaxAmount))
	}

	// Subtotales y totales
	gTotSub := de.CreateElement("gTotSub")
	gTotSub.CreateElement("dTotOpe").SetText(amount(inv.Subtotal))
	gTotSub.CreateElement("dIVA5").SetText(amount(inv.Tax5))
	gTotSub.CreateElement("dIVA10").SetText(amount(inv.Tax10))
	gTotSub.CreateElement("dTotIVA").SetText(amount(inv.TaxTotal))
	gTotSub.CreateElement("dTotGralOpe").SetText(amount(inv.GrandTotal))

	// Campos fuera de la firma: QR de verificación
	gCamFuFD := rde.CreateElement("gCamFuFD")
	gCamFuFD.CreateElement("dCarQR").SetText(qrData)

	doc.Indent(2)
	return doc.WriteToBytes()
}

// buildQRData payload de verificación: NumDoc|FecEmision|Total|TotIVA|CDC|UrlConsulta.
func buildQRData(inv *entity.Invoice, cdc, environment string) string {
	exp := fiscal.MinorUnitExponent(inv.Currency)
	base := qrURLPruebas
	if environment == "1" {
		base = qrURLProduccion
	}
	return strings.Join([]string{
		inv.DocumentNumber(),
		inv.IssueDate.Format("2006-01-02"),
		inv.GrandTotal.StringFixed(exp),
		inv.TaxTotal.StringFixed(exp),
		cdc,
		base + cdc,
	}, "|")
}

// documentFilename nombre de archivo del XML: {RUC sin DV ni guiones}-{numDoc}.xml.
func documentFilename(ruc string, inv *entity.Invoice) string {
	base, _ := splitRUC(ruc)
	return base + "-" + inv.DocumentNumber() + ".xml"
}

// splitRUC separa base y dígito verificador. "80012345-0" → ("80012345", "0");
// sin guion, el último dígito se toma como DV.
func splitRUC(ruc string) (base, dv string) {
	var digits []rune
	for _, r := range ruc {
		if unicode.IsDigit(r) {
			digits = append(digits, r)
		}
	}
	if len(digits) < 2 {
		return string(digits), ""
	}
	return string(digits[:len(digits)-1]), string(digits[len(digits)-1])
}

// asciiFold elimina diacríticos (á → a) para los campos de texto del rDE.
var foldTransformer = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

func asciiFold(s string) string {
	out, _, err := transform.String(foldTransformer, s)
	if err != nil {
		return s
	}
	return out
}
