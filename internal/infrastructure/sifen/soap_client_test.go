package sifen

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gestlog/logistica-api/internal/domain"
)

// Respuestas reales del WS, recortadas a lo que el parser consume.
const (
	respAprobado = `<?xml version="1.0" encoding="UTF-8"?>
<env:Envelope xmlns:env="http://www.w3.org/2003/05/soap-envelope">
  <env:Body>
    <ns1:rRetEnviDe xmlns:ns1="http://ekuatia.set.gov.py/sifen/xsd">
      <ns1:rProtDe>
        <ns1:Id>01800123450010010000001202601010000000015</ns1:Id>
        <ns1:dEstRes>Aprobado</ns1:dEstRes>
        <ns1:gResProc>
          <ns1:dCodRes>0260</ns1:dCodRes>
          <ns1:dMsgRes>Autorizado el DE</ns1:dMsgRes>
        </ns1:gResProc>
      </ns1:rProtDe>
    </ns1:rRetEnviDe>
  </env:Body>
</env:Envelope>`

	respRechazado = `<?xml version="1.0" encoding="UTF-8"?>
<env:Envelope xmlns:env="http://www.w3.org/2003/05/soap-envelope">
  <env:Body>
    <ns1:rRetEnviDe xmlns:ns1="http://ekuatia.set.gov.py/sifen/xsd">
      <ns1:rProtDe>
        <ns1:dEstRes>Rechazado</ns1:dEstRes>
        <ns1:gResProc>
          <ns1:dCodRes>0420</ns1:dCodRes>
          <ns1:dMsgRes>CDC no corresponde con el contenido del DE</ns1:dMsgRes>
        </ns1:gResProc>
      </ns1:rProtDe>
    </ns1:rRetEnviDe>
  </env:Body>
</env:Envelope>`

	// La consulta por CDC responde al tope, sin rProtDe, cuando el documento
	// no existe o sigue en procesamiento.
	respConsultaCDCInexistente = `<?xml version="1.0" encoding="UTF-8"?>
<env:Envelope xmlns:env="http://www.w3.org/2003/05/soap-envelope">
  <env:Body>
    <ns1:rEnviConsDeResponse xmlns:ns1="http://ekuatia.set.gov.py/sifen/xsd">
      <ns1:dCodRes>0422</ns1:dCodRes>
      <ns1:dMsgRes>CDC inexistente</ns1:dMsgRes>
    </ns1:rEnviConsDeResponse>
  </env:Body>
</env:Envelope>`

	respLoteRechazado = `<?xml version="1.0" encoding="UTF-8"?>
<env:Envelope xmlns:env="http://www.w3.org/2003/05/soap-envelope">
  <env:Body>
    <ns1:rResEnviLoteDe xmlns:ns1="http://ekuatia.set.gov.py/sifen/xsd">
      <ns1:dCodRes>0301</ns1:dCodRes>
      <ns1:dMsgRes>XML del lote mal formado</ns1:dMsgRes>
    </ns1:rResEnviLoteDe>
  </env:Body>
</env:Envelope>`

	respLoteRecibido = `<?xml version="1.0" encoding="UTF-8"?>
<env:Envelope xmlns:env="http://www.w3.org/2003/05/soap-envelope">
  <env:Body>
    <ns1:rResEnviLoteDe xmlns:ns1="http://ekuatia.set.gov.py/sifen/xsd">
      <ns1:dCodRes>0300</ns1:dCodRes>
      <ns1:dMsgRes>Lote recibido con exito</ns1:dMsgRes>
      <ns1:dProtConsLote>12345678901</ns1:dProtConsLote>
    </ns1:rResEnviLoteDe>
  </env:Body>
</env:Envelope>`
)

func TestParseSubmitResponseAprobado(t *testing.T) {
	res, err := parseSubmitResponse([]byte(respAprobado))
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.True(t, res.Resolved())
	assert.Equal(t, "0260", res.Code)
	assert.Equal(t, "Autorizado el DE", res.Message)
}

func TestParseSubmitResponseRechazadoConservaTextuales(t *testing.T) {
	res, err := parseSubmitResponse([]byte(respRechazado))
	require.NoError(t, err)
	assert.False(t, res.Accepted)
	assert.True(t, res.Resolved())
	assert.Equal(t, "0420", res.Code)
	assert.Equal(t, "CDC no corresponde con el contenido del DE", res.Message)
}

func TestParseSubmitResponseConsultaSinVeredicto(t *testing.T) {
	res, err := parseSubmitResponse([]byte(respConsultaCDCInexistente))
	require.NoError(t, err)

	// "CDC inexistente" no es un rechazo del documento: queda pendiente, con
	// el código de la consulta visible para diagnóstico.
	assert.False(t, res.Accepted)
	assert.True(t, res.Pending)
	assert.False(t, res.Resolved())
	assert.Equal(t, "0422", res.Code)
	assert.Equal(t, "CDC inexistente", res.Message)
}

func TestParseBatchResponseLoteRechazado(t *testing.T) {
	_, err := parseBatchResponse([]byte(respLoteRechazado))
	require.Error(t, err)

	var rejErr *domain.AuthorityRejectionError
	require.ErrorAs(t, err, &rejErr)
	assert.Equal(t, "0301", rejErr.Code)
	assert.Equal(t, "XML del lote mal formado", rejErr.Message)
}

func TestParseBatchResponseLoteRecibido(t *testing.T) {
	res, err := parseBatchResponse([]byte(respLoteRecibido))
	require.NoError(t, err)
	assert.Equal(t, "12345678901", res.BatchID)
	assert.Empty(t, res.Results)
}
