// Puerto para la firma digital de documentos XML (SIFEN).

package sifen

import "crypto/tls"

// Signer firma el XML del documento y devuelve el XML con la firma inyectada.
// Una falla aquí bloquea el envío a SIFEN pero nunca corrompe la factura.
type Signer interface {
	// Sign toma el XML del documento (sin firma) y el certificado con llave
	// privada, y retorna el XML con el nodo ds:Signature incorporado.
	Sign(xmlBytes []byte, cert tls.Certificate) ([]byte, error)
}
