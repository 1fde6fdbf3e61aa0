package dialogue

// User-facing texts of the questionnaire. They are matched verbatim by
// clients and tests; change with care.
const (
	PromptIdentify        = "Antes de começar, deseja se identificar? (sim/não)"
	PromptName            = "Certo! Escreva seu nome:"
	PromptTaxID           = "Digite o seu CPF:"
	PromptAnonymous       = "Tudo bem. Vamos continuar.\nPrimeiro, defina em poucas palavras o tipo do problema (ex: buraco, iluminação, lixo, árvore, saúde)"
	PromptYesNoStrict     = "Por favor, responda apenas com 'sim' ou 'não'."
	PromptTaxIDInvalid    = "Escreva o CPF apenas em números ou no formato 000.000.000-00 e tente novamente:"
	PromptProblemType     = "Perfeito! Agora, defina em poucas palavras o tipo do problema (ex: buraco, iluminação, lixo, árvore, saúde)"
	PromptAskAddress      = "Deseja informar o endereço do problema? (sim/não)"
	PromptYesNo           = "Responda apenas com 'sim' ou 'não'."
	PromptAddress         = "Escreva o endereço (rua, bairro, ponto de referência...)"
	PromptDate            = "Quando você percebeu o problema pela primeira vez? (ex: 18/10/2025)"
	PromptDateInvalid     = "Escreva a data no formato dia/mês/ano (ex: 18/10/2025)."
	PromptDescription     = "Agora, por favor, descreva detalhadamente o problema em suas próprias palavras."
	PromptAskMedia        = "Deseja enviar alguma imagem ou vídeo? (sim/não)"
	PromptMedia           = "Envie sua imagem ou vídeo."
	PromptMediaMissing    = "Por favor, envie a imagem ou vídeo."
	PromptMediaReceived   = "Recebi sua mídia. Deseja mudar algo antes de enviar? (sim/não)"
	PromptConfirm         = "Sua demanda está prestes a ser enviada. Deseja mudar algo? (sim/não)"
	PromptEditMenu        = "O que deseja alterar?\n- Tipo do problema\n- Endereço\n- Data\n- Descrição\n- Mídias"
	PromptEditInvalid     = "Escolha uma das opções válidas: Tipo do problema, Endereço, Data, Descrição ou Mídias."
	PromptEditProblemType = "Digite o novo tipo do problema:"
	PromptEditAddress     = "Digite o novo endereço:"
	PromptEditDate        = "Digite a nova data (ex: 18/10/2025):"
	PromptEditDescription = "Digite a nova descrição:"
	PromptEditMedia       = "Envie sua nova imagem ou vídeo."
	PromptEditDone        = "✅ Informação alterada com sucesso. Deseja mudar mais algo? (sim/não)"
	PromptClassifyFailed  = "Um erro inesperado aconteceu, tente novamente mais tarde"
	PromptStartNew        = "Digite *começar* para iniciar uma nova demanda."

	// NotInformed replaces an empty address in the summary.
	NotInformed = "Não informado"
)
