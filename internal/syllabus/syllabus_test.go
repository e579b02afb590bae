package syllabus

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavelanni/studyledger/internal/ledger"
)

func TestReadSemicolon(t *testing.T) {
	in := " Disciplina ;Tópico do Edital ;Obs\n" +
		"Língua Portuguesa;Crase;\n" +
		"Língua Portuguesa;Concordância verbal, nominal;x\n" +
		";sem disciplina;\n" +
		"Legislação Municipal;Lei Orgânica\n"

	got, err := Read(strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, []ledger.SyllabusEntry{
		{Discipline: "Língua Portuguesa", Topic: "Crase"},
		{Discipline: "Língua Portuguesa", Topic: "Concordância verbal, nominal"},
		{Discipline: "Legislação Municipal", Topic: "Lei Orgânica"},
	}, got)
}

func TestReadLatin1(t *testing.T) {
	// "Matemática;Razão" in ISO-8859-1.
	in := "Disciplina;Topico do Edital\nMatem\xe1tica;Raz\xe3o\n"
	got, err := Read(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Matemática", got[0].Discipline)
	assert.Equal(t, "Razão", got[0].Topic)
}

func TestReadCommaEnglishHeaders(t *testing.T) {
	in := "\xef\xbb\xbfTopic,Discipline\n\"Sets, relations\",Math\nGrammar,English\n"
	got, err := Read(strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, []ledger.SyllabusEntry{
		{Discipline: "Math", Topic: "Sets, relations"},
		{Discipline: "English", Topic: "Grammar"},
	}, got)
}

func TestReadErrors(t *testing.T) {
	_, err := Read(strings.NewReader("Materia;Topico do Edital\nX;Y\n"))
	assert.True(t, errors.Is(err, ErrMissingColumn), "got %v", err)

	_, err = Read(strings.NewReader(""))
	assert.Error(t, err)

	_, err = Read(strings.NewReader("Disciplina;Tópico do Edital\n;\n"))
	assert.Error(t, err)
}
