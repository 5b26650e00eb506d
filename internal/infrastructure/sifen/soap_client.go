package sifen

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gestlog/logistica-api/internal/domain"
)

// ── Endpoints y códigos SIFEN ─────────────────────────────────────────────────

const (
	baseURLPruebas    = "https://sifen-test.set.gov.py"
	baseURLProduccion = "https://sifen.set.gov.py"

	pathRecepDE     = "/de/ws/sync/recibe.wsdl"
	pathRecepLote   = "/de/ws/async/recibe-lote.wsdl"
	pathConsultaDE  = "/de/ws/consultas/consulta.wsdl"
	pathConsultaLot = "/de/ws/consultas/consulta-lote.wsdl"

	soapEnvNS = "http://www.w3.org/2003/05/soap-envelope"

	// Códigos de resultado del WS. El texto de dMsgRes se propaga tal cual,
	// nunca se interpreta más allá de estos códigos.
	codAutorizado    = "0260" // DE autorizado
	codLoteRecibido  = "0300" // lote recibido, procesamiento pendiente
	codLoteProcesado = "0362" // lote procesado, resultados disponibles
)

// SOAPAuthorityClient implementa AuthorityClient contra el WS SOAP de SIFEN.
// Usa net/http de la stdlib; los timeouts de conexión y lectura vienen de
// configuración y aplican por llamada.
type SOAPAuthorityClient struct {
	httpClient *http.Client
	baseURL    string
}

// ClientOptions parámetros de red del cliente SOAP.
type ClientOptions struct {
	Environment    string // "1" producción, "2" pruebas
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
}

// NewSOAPAuthorityClient construye el cliente SOAP. El WS de SIFEN puede tardar
// varios segundos bajo carga, por eso el timeout de lectura es independiente
// del de conexión.
func NewSOAPAuthorityClient(opts ClientOptions) *SOAPAuthorityClient {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 45 * time.Second
	}
	base := baseURLPruebas
	if opts.Environment == "1" {
		base = baseURLProduccion
	}
	dialer := &net.Dialer{Timeout: opts.ConnectTimeout}
	return &SOAPAuthorityClient{
		baseURL: base,
		httpClient: &http.Client{
			Timeout: opts.ReadTimeout,
			Transport: &http.Transport{
				DialContext:         dialer.DialContext,
				TLSHandshakeTimeout: opts.ConnectTimeout,
			},
		},
	}
}

// ── Submit (vía síncrona, un documento) ───────────────────────────────────────

// Submit envía un rDE firmado por la vía síncrona (rEnviDe). El rDE viaja
// embebido en el envelope, no en Base64.
func (c *SOAPAuthorityClient) Submit(ctx context.Context, snap *DocumentSnapshot) (*SubmitResult, error) {
	if snap == nil || len(snap.XML) == 0 {
		return nil, fmt.Errorf("soap: snapshot vacío")
	}

	var body bytes.Buffer
	body.WriteString(`<env:Envelope xmlns:env="` + soapEnvNS + `"><env:Header/><env:Body>`)
	body.WriteString(`<rEnviDe xmlns="` + nsSifen + `">`)
	body.WriteString(`<dId>` + requestID() + `</dId>`)
	body.WriteString(`<xDE>`)
	body.Write(stripXMLDecl(snap.XML))
	body.WriteString(`</xDE></rEnviDe></env:Body></env:Envelope>`)

	raw, err := c.post(ctx, c.baseURL+pathRecepDE, body.Bytes())
	if err != nil {
		return nil, err
	}
	return parseSubmitResponse(raw)
}

// ── SubmitBatch (vía asíncrona, lote) ─────────────────────────────────────────

// SubmitBatch comprime los documentos en un ZIP y los envía por la vía de lotes
// (rEnvioLote). Si la respuesta trae resultados por documento se devuelven
// indexados por CDC; si SIFEN solo confirma la recepción, Results queda vacío y
// el lote se consulta luego con QueryBatch.
func (c *SOAPAuthorityClient) SubmitBatch(ctx context.Context, snaps []*DocumentSnapshot) (*BatchResult, error) {
	if len(snaps) == 0 {
		return nil, fmt.Errorf("soap: lote vacío")
	}
	zipBytes, err := CompressBatchToZip(snaps)
	if err != nil {
		return nil, err
	}

	var body bytes.Buffer
	body.WriteString(`<env:Envelope xmlns:env="` + soapEnvNS + `"><env:Header/><env:Body>`)
	body.WriteString(`<rEnvioLote xmlns="` + nsSifen + `">`)
	body.WriteString(`<dId>` + requestID() + `</dId>`)
	body.WriteString(`<xDE>` + base64.StdEncoding.EncodeToString(zipBytes) + `</xDE>`)
	body.WriteString(`</rEnvioLote></env:Body></env:Envelope>`)

	raw, err := c.post(ctx, c.baseURL+pathRecepLote, body.Bytes())
	if err != nil {
		return nil, err
	}
	return parseBatchResponse(raw)
}

// ── Consultas ─────────────────────────────────────────────────────────────────

// QueryStatus consulta el estado de un documento por CDC (rEnviConsDeRequest).
func (c *SOAPAuthorityClient) QueryStatus(ctx context.Context, cdc string) (*SubmitResult, error) {
	if cdc == "" {
		return nil, fmt.Errorf("soap: CDC requerido")
	}
	var body bytes.Buffer
	body.WriteString(`<env:Envelope xmlns:env="` + soapEnvNS + `"><env:Header/><env:Body>`)
	body.WriteString(`<rEnviConsDeRequest xmlns="` + nsSifen + `">`)
	body.WriteString(`<dId>` + requestID() + `</dId>`)
	body.WriteString(`<dCDC>` + cdc + `</dCDC>`)
	body.WriteString(`</rEnviConsDeRequest></env:Body></env:Envelope>`)

	raw, err := c.post(ctx, c.baseURL+pathConsultaDE, body.Bytes())
	if err != nil {
		return nil, err
	}
	return parseSubmitResponse(raw)
}

// QueryBatch consulta los resultados de un lote (rEnviConsLoteDe).
func (c *SOAPAuthorityClient) QueryBatch(ctx context.Context, batchID string) (*BatchResult, error) {
	if batchID == "" {
		return nil, fmt.Errorf("soap: identificador de lote requerido")
	}
	var body bytes.Buffer
	body.WriteString(`<env:Envelope xmlns:env="` + soapEnvNS + `"><env:Header/><env:Body>`)
	body.WriteString(`<rEnviConsLoteDe xmlns="` + nsSifen + `">`)
	body.WriteString(`<dId>` + requestID() + `</dId>`)
	body.WriteString(`<dProtConsLote>` + batchID + `</dProtConsLote>`)
	body.WriteString(`</rEnviConsLoteDe></env:Body></env:Envelope>`)

	raw, err := c.post(ctx, c.baseURL+pathConsultaLot, body.Bytes())
	if err != nil {
		return nil, err
	}
	res, err := parseBatchResponse(raw)
	if err != nil {
		return nil, err
	}
	if res.BatchID == "" {
		res.BatchID = batchID
	}
	return res, nil
}

// Ping verifica la disponibilidad del WS: un GET al WSDL de recepción. Es el
// gatillo del modo contingencia, no una operación de negocio.
func (c *SOAPAuthorityClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+pathRecepDE, nil)
	if err != nil {
		return fmt.Errorf("soap: crear request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return asTransportError(ctx, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
	if resp.StatusCode >= 500 {
		return &domain.TransportError{Err: fmt.Errorf("soap: WS no disponible, HTTP %d", resp.StatusCode)}
	}
	return nil
}

// ── HTTP ──────────────────────────────────────────────────────────────────────

func (c *SOAPAuthorityClient) post(ctx context.Context, url string, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("soap: crear request: %w", err)
	}
	req.Header.Set("Content-Type", "application/soap+xml; charset=utf-8")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, asTransportError(ctx, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20)) // max 4 MB
	if err != nil {
		return nil, asTransportError(ctx, err)
	}
	if resp.StatusCode >= 500 {
		return nil, &domain.TransportError{Err: fmt.Errorf("soap: HTTP %d: %s", resp.StatusCode, truncate(raw, 256))}
	}
	return raw, nil
}

// asTransportError clasifica fallas de red como TransportError, marcando
// Timeout cuando venció el deadline (propio o del contexto).
func asTransportError(ctx context.Context, err error) error {
	timeout := false
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		timeout = true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		timeout = true
	}
	return &domain.TransportError{Err: err, Timeout: timeout}
}

// ── Estructuras de respuesta ──────────────────────────────────────────────────

type soapResponseEnvelope struct {
	Body soapResponseBody `xml:"Body"`
}

type soapResponseBody struct {
	RetEnviDe   *retEnviDe   `xml:"rRetEnviDe"`
	RetConsDe   *retEnviDe   `xml:"rEnviConsDeResponse"`
	RetEnviLote *retEnviLote `xml:"rResEnviLoteDe"`
	RetConsLote *retEnviLote `xml:"rResEnviConsLoteDe"`
	Fault       *soapFault   `xml:"Fault"`
}

type retEnviDe struct {
	// Código y mensaje al tope de la respuesta: en la consulta por CDC ahí
	// viaja el resultado de la consulta misma (CDC inexistente, en proceso).
	Codigo  string `xml:"dCodRes"`
	Mensaje string `xml:"dMsgRes"`
	ProtDE  protDE `xml:"rProtDe"`
}

type protDE struct {
	ID      string       `xml:"id,attr"`
	CDC     string       `xml:"Id"`
	Estado  string       `xml:"dEstRes"` // "Aprobado" / "Rechazado"
	ProtAut string       `xml:"dProtAut"`
	Proc    []resultProc `xml:"gResProc"`
}

type retEnviLote struct {
	Codigo  string   `xml:"dCodRes"`
	Mensaje string   `xml:"dMsgRes"`
	LoteNro string   `xml:"dProtConsLote"`
	Docs    []protDE `xml:"gResProcLote"`
}

type resultProc struct {
	Codigo  string `xml:"dCodRes"`
	Mensaje string `xml:"dMsgRes"`
}

type soapFault struct {
	Code   string `xml:"Code>Value"`
	Reason string `xml:"Reason>Text"`
}

// parseSubmitResponse extrae el resultado de un documento. El código y mensaje
// de SIFEN se devuelven literales.
func parseSubmitResponse(raw []byte) (*SubmitResult, error) {
	var env soapResponseEnvelope
	if err := xml.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("soap: respuesta no parseable: %s", truncate(raw, 256))
	}
	if env.Body.Fault != nil {
		return nil, fmt.Errorf("soap: fault [%s]: %s", env.Body.Fault.Code, env.Body.Fault.Reason)
	}
	ret := env.Body.RetEnviDe
	if ret == nil {
		ret = env.Body.RetConsDe
	}
	if ret == nil {
		return nil, fmt.Errorf("soap: respuesta vacía o inesperada: %s", truncate(raw, 256))
	}
	res := protToResult(&ret.ProtDE)
	if res.Pending && res.Code == "" {
		res.Code, res.Message = ret.Codigo, ret.Mensaje
	}
	return res, nil
}

// parseBatchResponse extrae el resultado de un lote, indexado por CDC.
func parseBatchResponse(raw []byte) (*BatchResult, error) {
	var env soapResponseEnvelope
	if err := xml.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("soap: respuesta no parseable: %s", truncate(raw, 256))
	}
	if env.Body.Fault != nil {
		return nil, fmt.Errorf("soap: fault [%s]: %s", env.Body.Fault.Code, env.Body.Fault.Reason)
	}
	ret := env.Body.RetEnviLote
	if ret == nil {
		ret = env.Body.RetConsLote
	}
	if ret == nil {
		return nil, fmt.Errorf("soap: respuesta vacía o inesperada: %s", truncate(raw, 256))
	}
	if ret.Codigo != "" && ret.Codigo != codLoteRecibido && ret.Codigo != codLoteProcesado {
		// SIFEN examinó la petición y la rechazó; código y mensaje textuales.
		return nil, &domain.AuthorityRejectionError{Code: ret.Codigo, Message: ret.Mensaje}
	}

	out := &BatchResult{BatchID: ret.LoteNro, Results: make(map[string]*SubmitResult, len(ret.Docs))}
	for i := range ret.Docs {
		doc := &ret.Docs[i]
		cdc := doc.CDC
		if cdc == "" {
			cdc = doc.ID
		}
		out.Results[cdc] = protToResult(doc)
	}
	return out, nil
}

// protToResult traduce un rProtDe a resultado. Un rechazo exige dEstRes
// "Rechazado" con código en gResProc; cualquier otra combinación sin aprobación
// queda pendiente, nunca se inventa un rechazo sin código.
func protToResult(p *protDE) *SubmitResult {
	code, msg := "", ""
	if len(p.Proc) > 0 {
		code = p.Proc[0].Codigo
		msg = p.Proc[0].Mensaje
	}
	switch {
	case strings.EqualFold(p.Estado, "Aprobado") || code == codAutorizado:
		return &SubmitResult{Accepted: true, Code: code, Message: msg}
	case strings.EqualFold(p.Estado, "Rechazado") && code != "":
		return &SubmitResult{Code: code, Message: msg}
	default:
		return &SubmitResult{Pending: true, Code: code, Message: msg}
	}
}

// requestID dId numérico-ish por llamada; SIFEN solo exige unicidad razonable.
func requestID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:15]
}

// stripXMLDecl quita la declaración <?xml ...?> para embeber el rDE en el envelope.
func stripXMLDecl(b []byte) []byte {
	s := bytes.TrimSpace(b)
	if bytes.HasPrefix(s, []byte("<?xml")) {
		if idx := bytes.Index(s, []byte("?>")); idx >= 0 {
			return bytes.TrimSpace(s[idx+2:])
		}
	}
	return s
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

var _ AuthorityClient = (*SOAPAuthorityClient)(nil)
