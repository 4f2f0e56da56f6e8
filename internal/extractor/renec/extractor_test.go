package renec

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/registrolabs/renec-harvester/internal/registry"
)

const standardsPage = `<html><body>
<table>
  <thead>
    <tr><th>Codigo</th><th>Titulo</th><th>Sector</th></tr>
  </thead>
  <tbody>
    <tr><td>EC0217</td><td>Imparticion de cursos</td><td>Educacion</td></tr>
    <tr><td>EC0305</td><td>Prestacion de servicios</td><td>Turismo</td></tr>
    <tr><td></td><td>fila vacia</td></tr>
  </tbody>
</table>
</body></html>`

const certifiersPage = `<html><body>
<table>
  <tbody>
    <tr><td>ECE081-13</td><td>Entidad Certificadora</td></tr>
  </tbody>
</table>
</body></html>`

func TestExtractStandardsListing(t *testing.T) {
	t.Parallel()

	e := New()
	records, err := e.Extract(registry.FetchResponse{
		URL:  "https://conocer.gob.mx/RENEC/estandares?page=1",
		Body: []byte(standardsPage),
	})
	require.NoError(t, err)
	require.Len(t, records, 2)

	require.Equal(t, registry.KindStandard, records[0].Kind)
	require.Equal(t, "EC0217", records[0].NaturalKey)
	require.Equal(t, "Imparticion de cursos", records[0].Fields["title"])
	require.Equal(t, "Educacion", records[0].Fields["sector"])
	require.Equal(t, "https://conocer.gob.mx/RENEC/estandares?page=1", records[0].SourceURL)
}

func TestExtractCertifiersWithoutHeaders(t *testing.T) {
	t.Parallel()

	e := New()
	records, err := e.Extract(registry.FetchResponse{
		URL:  "https://conocer.gob.mx/RENEC/certificadores",
		Body: []byte(certifiersPage),
	})
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, registry.KindCertifier, records[0].Kind)
	require.Equal(t, "ECE081-13", records[0].NaturalKey)
	require.Equal(t, "Entidad Certificadora", records[0].Fields["name"])
}

func TestExtractUnknownSectionFails(t *testing.T) {
	t.Parallel()

	e := New()
	_, err := e.Extract(registry.FetchResponse{
		URL:  "https://conocer.gob.mx/otra/cosa",
		Body: []byte(standardsPage),
	})
	require.Error(t, err)
}

func TestExtractEmptyPage(t *testing.T) {
	t.Parallel()

	e := New()
	records, err := e.Extract(registry.FetchResponse{
		URL:  "https://conocer.gob.mx/RENEC/sectores",
		Body: []byte("<html><body><p>sin resultados</p></body></html>"),
	})
	require.NoError(t, err)
	require.Empty(t, records)
}
