package i18n

import "strings"

// DefaultLanguage is the language messages are written in.
const DefaultLanguage = "en"

var translations = map[string]map[string]string{
	"it": {
		"invalid request":                          "richiesta non valida",
		"missing authorization token":              "token di autorizzazione mancante",
		"invalid token":                            "token non valido",
		"user not found":                           "utente non trovato",
		"unauthorized":                             "non autorizzato",
		"not found":                                "non trovato",
		"internal server error":                    "errore interno del server",
		"rate limit exceeded":                      "troppe richieste",
		"rate limiter error":                       "errore del limitatore di richieste",
		"invalid email or password":                "email o password non validi",
		"email already registered":                 "email già registrata",
		"invalid email address":                    "indirizzo email non valido",
		"password must be at least 6 characters":   "la password deve contenere almeno 6 caratteri",
		"name must be between 1 and 64 characters": "il nome deve contenere da 1 a 64 caratteri",
		"radio is not enabled":                     "il Bluetooth non è attivo",
		"scan already in progress":                 "scansione già in corso",
		"invalid input":                            "dati non validi",
		"invalid state":                            "operazione non consentita in questo stato",
		"collaborator failure":                     "servizio temporaneamente non disponibile",
		"conversation not found":                   "conversazione non trovata",
		"offer not found":                          "offerta non trovata",
		"device not found":                         "dispositivo non trovato",
		"offer already resolved":                   "offerta già gestita",
		"message content is empty":                 "il messaggio è vuoto",
		"message is too long":                      "il messaggio è troppo lungo",
		"invalid offer type":                       "tipo di offerta non valido",
		"New message":                              "Nuovo messaggio",
		"New coffee offer":                         "Nuova offerta di caffè",
		"wants to buy you a coffee":                "vuole offrirti un caffè",
		"would like you to buy them a coffee":      "vorrebbe che gli offrissi un caffè",
	},
	"es": {
		"invalid request":                          "solicitud no válida",
		"missing authorization token":              "falta el token de autorización",
		"invalid token":                            "token no válido",
		"user not found":                           "usuario no encontrado",
		"unauthorized":                             "no autorizado",
		"not found":                                "no encontrado",
		"internal server error":                    "error interno del servidor",
		"rate limit exceeded":                      "demasiadas solicitudes",
		"rate limiter error":                       "error del limitador de solicitudes",
		"invalid email or password":                "correo o contraseña no válidos",
		"email already registered":                 "el correo ya está registrado",
		"invalid email address":                    "correo electrónico no válido",
		"password must be at least 6 characters":   "la contraseña debe tener al menos 6 caracteres",
		"name must be between 1 and 64 characters": "el nombre debe tener entre 1 y 64 caracteres",
		"radio is not enabled":                     "el Bluetooth no está activado",
		"scan already in progress":                 "ya hay un escaneo en curso",
		"invalid input":                            "datos no válidos",
		"invalid state":                            "operación no permitida en este estado",
		"collaborator failure":                     "servicio no disponible temporalmente",
		"conversation not found":                   "conversación no encontrada",
		"offer not found":                          "oferta no encontrada",
		"device not found":                         "dispositivo no encontrado",
		"offer already resolved":                   "la oferta ya fue respondida",
		"message content is empty":                 "el mensaje está vacío",
		"message is too long":                      "el mensaje es demasiado largo",
		"invalid offer type":                       "tipo de oferta no válido",
		"New message":                              "Nuevo mensaje",
		"New coffee offer":                         "Nueva oferta de café",
		"wants to buy you a coffee":                "quiere invitarte a un café",
		"would like you to buy them a coffee":      "quiere que le invites a un café",
	},
	"fr": {
		"invalid request":                          "requête invalide",
		"missing authorization token":              "jeton d'autorisation manquant",
		"invalid token":                            "jeton invalide",
		"user not found":                           "utilisateur introuvable",
		"unauthorized":                             "non autorisé",
		"not found":                                "introuvable",
		"internal server error":                    "erreur interne du serveur",
		"rate limit exceeded":                      "trop de requêtes",
		"rate limiter error":                       "erreur du limiteur de requêtes",
		"invalid email or password":                "e-mail ou mot de passe invalide",
		"email already registered":                 "e-mail déjà enregistré",
		"invalid email address":                    "adresse e-mail invalide",
		"password must be at least 6 characters":   "le mot de passe doit contenir au moins 6 caractères",
		"name must be between 1 and 64 characters": "le nom doit contenir entre 1 et 64 caractères",
		"radio is not enabled":                     "le Bluetooth n'est pas activé",
		"scan already in progress":                 "analyse déjà en cours",
		"invalid input":                            "données invalides",
		"invalid state":                            "opération impossible dans cet état",
		"collaborator failure":                     "service temporairement indisponible",
		"conversation not found":                   "conversation introuvable",
		"offer not found":                          "offre introuvable",
		"device not found":                         "appareil introuvable",
		"offer already resolved":                   "offre déjà traitée",
		"message content is empty":                 "le message est vide",
		"message is too long":                      "le message est trop long",
		"invalid offer type":                       "type d'offre invalide",
		"New message":                              "Nouveau message",
		"New coffee offer":                         "Nouvelle offre de café",
		"wants to buy you a coffee":                "veut vous offrir un café",
		"would like you to buy them a coffee":      "aimerait que vous lui offriez un café",
	},
	"de": {
		"invalid request":                          "ungültige Anfrage",
		"missing authorization token":              "Autorisierungstoken fehlt",
		"invalid token":                            "ungültiges Token",
		"user not found":                           "Benutzer nicht gefunden",
		"unauthorized":                             "nicht autorisiert",
		"not found":                                "nicht gefunden",
		"internal server error":                    "interner Serverfehler",
		"rate limit exceeded":                      "zu viele Anfragen",
		"rate limiter error":                       "Fehler der Anfragebegrenzung",
		"invalid email or password":                "ungültige E-Mail oder ungültiges Passwort",
		"email already registered":                 "E-Mail bereits registriert",
		"invalid email address":                    "ungültige E-Mail-Adresse",
		"password must be at least 6 characters":   "das Passwort muss mindestens 6 Zeichen lang sein",
		"name must be between 1 and 64 characters": "der Name muss zwischen 1 und 64 Zeichen lang sein",
		"radio is not enabled":                     "Bluetooth ist nicht aktiviert",
		"scan already in progress":                 "Suche läuft bereits",
		"invalid input":                            "ungültige Eingabe",
		"invalid state":                            "in diesem Zustand nicht möglich",
		"collaborator failure":                     "Dienst vorübergehend nicht verfügbar",
		"conversation not found":                   "Unterhaltung nicht gefunden",
		"offer not found":                          "Angebot nicht gefunden",
		"device not found":                         "Gerät nicht gefunden",
		"offer already resolved":                   "Angebot bereits beantwortet",
		"message content is empty":                 "die Nachricht ist leer",
		"message is too long":                      "die Nachricht ist zu lang",
		"invalid offer type":                       "ungültige Angebotsart",
		"New message":                              "Neue Nachricht",
		"New coffee offer":                         "Neues Kaffee-Angebot",
		"wants to buy you a coffee":                "möchte dir einen Kaffee ausgeben",
		"would like you to buy them a coffee":      "möchte, dass du einen Kaffee ausgibst",
	},
}

var prefixTranslations = map[string]map[string]string{
	"it": {
		"failed to parse token:":     "token non valido",
		"unexpected signing method:": "metodo di firma del token non valido",
	},
	"es": {
		"failed to parse token:":     "token no válido",
		"unexpected signing method:": "método de firma del token no válido",
	},
	"fr": {
		"failed to parse token:":     "jeton invalide",
		"unexpected signing method:": "méthode de signature du jeton invalide",
	},
	"de": {
		"failed to parse token:":     "ungültiges Token",
		"unexpected signing method:": "ungültige Token-Signaturmethode",
	},
}

// Translate returns message in lang, or message itself when no translation
// exists. Region suffixes such as "it-IT" fall back to the base language.
func Translate(lang, message string) string {
	lang = Normalize(lang)
	if translated, ok := translations[lang][message]; ok {
		return translated
	}
	for prefix, translated := range prefixTranslations[lang] {
		if strings.HasPrefix(message, prefix) {
			return translated
		}
	}
	return message
}

// Known reports whether message has translations.
func Known(message string) bool {
	_, ok := translations["it"][message]
	return ok
}

// Normalize reduces an Accept-Language style tag to a supported base
// language, defaulting to English.
func Normalize(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if i := strings.IndexAny(lang, "-_,;"); i >= 0 {
		lang = lang[:i]
	}
	if _, ok := translations[lang]; ok {
		return lang
	}
	return DefaultLanguage
}
