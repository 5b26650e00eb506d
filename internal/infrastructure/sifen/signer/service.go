// Servicio de firma digital del rDE (XML-DSig + propiedades XAdES).
// Inyecta <ds:Signature> como último hijo de <rDE>, con Reference al nodo
// <DE Id="{CDC}">.

package signer

import (
	"bytes"
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"encoding/xml"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/ucarion/c14n"

	"github.com/gestlog/logistica-api/internal/domain"
	"github.com/gestlog/logistica-api/pkg/sifen"
)

// DigitalSignatureService implementa pkg/sifen.Signer.
// Toda falla se reporta como domain.SigningError: la firma nunca llega a la
// red ni modifica la factura.
type DigitalSignatureService struct{}

// NewDigitalSignatureService crea el servicio.
func NewDigitalSignatureService() *DigitalSignatureService {
	return &DigitalSignatureService{}
}

// Sign firma el rDE e inyecta el nodo ds:Signature.
func (s *DigitalSignatureService) Sign(xmlBytes []byte, cert tls.Certificate) ([]byte, error) {
	if len(xmlBytes) == 0 {
		return nil, &domain.SigningError{Reason: "XML vacío"}
	}
	if len(cert.Certificate) == 0 || cert.PrivateKey == nil {
		return nil, &domain.SigningError{Reason: "credencial de firma no cargada o incompleta"}
	}
	priv, ok := cert.PrivateKey.(*rsa.PrivateKey)
	if !ok {
		return nil, &domain.SigningError{Reason: "la credencial debe incluir llave privada RSA"}
	}
	x509Cert, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return nil, &domain.SigningError{Reason: "parsear certificado", Err: err}
	}
	if time.Now().After(x509Cert.NotAfter) {
		return nil, &domain.SigningError{Reason: "certificado vencido el " + x509Cert.NotAfter.Format("2006-01-02")}
	}

	deID, err := documentElementID(xmlBytes)
	if err != nil {
		return nil, err
	}

	// 1) Digest del documento (C14N), Reference URI="#{CDC}"
	canonicalDoc, err := canonicalizeXML(xmlBytes)
	if err != nil {
		canonicalDoc = xmlBytes
	}
	docDigest := sha256.Sum256(canonicalDoc)
	docDigestB64 := base64.StdEncoding.EncodeToString(docDigest[:])

	// 2) SignedInfo canónico, firmado con RSA-SHA256
	signedInfoXML := buildSignedInfo(deID, docDigestB64)
	canonicalSignedInfo, err := canonicalizeXML([]byte(signedInfoXML))
	if err != nil {
		canonicalSignedInfo = []byte(signedInfoXML)
	}
	signHash := sha256.Sum256(canonicalSignedInfo)
	signatureValue, err := rsa.SignPKCS1v15(nil, priv, crypto.SHA256, signHash[:])
	if err != nil {
		return nil, &domain.SigningError{Reason: "firmar SignedInfo", Err: err}
	}

	// 3) Nodo completo: KeyInfo + propiedades XAdES (SigningTime, SigningCertificate)
	signingTime := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
	certDigestB64, issuerName, serialHex := CertDigestAndIssuerSerial(x509Cert)
	signatureXML := buildFullSignature(
		signedInfoXML,
		base64.StdEncoding.EncodeToString(signatureValue),
		base64.StdEncoding.EncodeToString(x509Cert.Raw),
		signingTime, certDigestB64, issuerName, serialHex,
	)

	// 4) Inyectar como último hijo de rDE
	return injectSignature(xmlBytes, signatureXML)
}

func canonicalizeXML(data []byte) ([]byte, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Entity = map[string]string{}
	return c14n.Canonicalize(dec)
}

// documentElementID obtiene el atributo Id del nodo DE (el CDC).
func documentElementID(xmlBytes []byte) (string, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(xmlBytes); err != nil {
		return "", &domain.SigningError{Reason: "parsear rDE", Err: err}
	}
	root := doc.Root()
	if root == nil {
		return "", &domain.SigningError{Reason: "documento sin raíz"}
	}
	de := root.SelectElement("DE")
	if de == nil {
		return "", &domain.SigningError{Reason: "no se encontró el nodo DE"}
	}
	id := de.SelectAttrValue("Id", "")
	if id == "" {
		return "", &domain.SigningError{Reason: "el nodo DE no tiene atributo Id (CDC)"}
	}
	return id, nil
}

func buildSignedInfo(deID, docDigestB64 string) string {
	var sb strings.Builder
	sb.WriteString(`<ds:SignedInfo xmlns:ds="` + NamespaceDS + `">`)
	sb.WriteString(`<ds:CanonicalizationMethod Algorithm="` + AlgC14N + `"/>`)
	sb.WriteString(`<ds:SignatureMethod Algorithm="` + AlgRSASHA256 + `"/>`)
	sb.WriteString(`<ds:Reference URI="#` + deID + `">`)
	sb.WriteString(`<ds:Transforms><ds:Transform Algorithm="` + TransformEnveloped + `"/>`)
	sb.WriteString(`<ds:Transform Algorithm="` + AlgC14N + `"/></ds:Transforms>`)
	sb.WriteString(`<ds:DigestMethod Algorithm="` + AlgSHA256 + `"/>`)
	sb.WriteString(`<ds:DigestValue>` + docDigestB64 + `</ds:DigestValue>`)
	sb.WriteString(`</ds:Reference>`)
	sb.WriteString(`</ds:SignedInfo>`)
	return sb.String()
}

func buildFullSignature(signedInfoXML, signatureValueB64, certB64, signingTime, certDigestB64, issuerName, serialHex string) string {
	var sb strings.Builder
	sb.WriteString(`<ds:Signature xmlns:ds="` + NamespaceDS + `" xmlns:xades="` + NamespaceXAdES + `">`)
	sb.WriteString(signedInfoXML)
	sb.WriteString(`<ds:SignatureValue>` + signatureValueB64 + `</ds:SignatureValue>`)
	sb.WriteString(`<ds:KeyInfo><ds:X509Data><ds:X509Certificate>` + certB64 + `</ds:X509Certificate></ds:X509Data></ds:KeyInfo>`)
	sb.WriteString(`<ds:Object><xades:QualifyingProperties>`)
	sb.WriteString(`<xades:SignedProperties Id="signed-props">`)
	sb.WriteString(`<xades:SignedSignatureProperties>`)
	sb.WriteString(`<xades:SigningTime>` + signingTime + `</xades:SigningTime>`)
	sb.WriteString(`<xades:SigningCertificate><xades:Cert><xades:CertDigest><ds:DigestMethod Algorithm="` + AlgSHA256 + `"/>`)
	sb.WriteString(`<ds:DigestValue>` + certDigestB64 + `</ds:DigestValue></xades:CertDigest>`)
	sb.WriteString(`<xades:IssuerSerial><ds:X509IssuerName>` + escapeXML(issuerName) + `</ds:X509IssuerName><ds:X509SerialNumber>` + serialHex + `</ds:X509SerialNumber></xades:IssuerSerial></xades:Cert></xades:SigningCertificate>`)
	sb.WriteString(`</xades:SignedSignatureProperties></xades:SignedProperties></xades:QualifyingProperties></ds:Object>`)
	sb.WriteString(`</ds:Signature>`)
	return sb.String()
}

func escapeXML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	s = strings.ReplaceAll(s, "\"", "&quot;")
	return s
}

func injectSignature(xmlBytes []byte, signatureXML string) ([]byte, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(xmlBytes); err != nil {
		return nil, &domain.SigningError{Reason: "parsear rDE para inyección", Err: err}
	}
	root := doc.Root()
	if root == nil {
		return nil, &domain.SigningError{Reason: "documento sin raíz"}
	}
	sigDoc := etree.NewDocument()
	if err := sigDoc.ReadFromString(signatureXML); err != nil {
		return nil, &domain.SigningError{Reason: "parsear Signature", Err: err}
	}
	sigRoot := sigDoc.Root()
	if sigRoot == nil {
		return nil, &domain.SigningError{Reason: "Signature sin raíz"}
	}
	root.AddChild(sigRoot)

	var out bytes.Buffer
	if _, err := doc.WriteTo(&out); err != nil {
		return nil, &domain.SigningError{Reason: "serializar rDE firmado", Err: err}
	}
	return out.Bytes(), nil
}

var _ sifen.Signer = (*DigitalSignatureService)(nil)
