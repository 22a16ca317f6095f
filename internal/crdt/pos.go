package crdt

import "strings"

// posBase основание цифр позиции. Цифра 0 зарезервирована и никогда
// не выдается новым элементам, поэтому сгенерированная позиция всегда
// строго больше своей нижней границы.
const posBase = 1 << 15

// PosEntry один уровень идентификатора позиции: цифра + сайт,
// сгенерировавший этот уровень. Сайт разводит конкурентные вставки,
// получившие одинаковую цифру на одном уровне.
type PosEntry struct {
	Site  string `json:"site"`
	Digit int    `json:"digit"`
}

// Position плотный идентификатор позиции элемента в последовательности
// (подход Logoot/LSEQ). Порядок элементов задается лексикографическим
// сравнением позиций, поэтому вставки коммутативны: любая реплика,
// получив тот же набор элементов, выстраивает их одинаково.
type Position []PosEntry

// Compare лексикографически сравнивает две позиции.
// Более короткая позиция с общим префиксом считается меньшей.
func (p Position) Compare(other Position) int {
	for i := 0; i < len(p) && i < len(other); i++ {
		if p[i].Digit != other[i].Digit {
			if p[i].Digit < other[i].Digit {
				return -1
			}
			return 1
		}
		if c := strings.Compare(p[i].Site, other[i].Site); c != 0 {
			return c
		}
	}
	switch {
	case len(p) < len(other):
		return -1
	case len(p) > len(other):
		return 1
	default:
		return 0
	}
}

// positionBetween генерирует новую позицию строго между lower и upper
// для сайта site. Пустая lower означает начало последовательности,
// пустая upper — конец. Алгоритм спускается по общему префиксу границ
// и на первом уровне с зазором выдает цифру lower+1.
func positionBetween(lower, upper Position, site string) Position {
	var out Position
	bounded := true // upper все еще ограничивает текущий уровень

	for i := 0; ; i++ {
		// Для исчерпанной нижней границы подставляется минимально
		// возможный уровень {0, ""}: пустой сайт сортируется раньше
		// любого реального, иначе придуманный уровень мог бы оказаться
		// выше верхней границы с той же цифрой.
		lowDigit := 0
		lowSite := ""
		hasLow := i < len(lower)
		if hasLow {
			lowDigit = lower[i].Digit
			lowSite = lower[i].Site
		}

		highDigit := posBase
		hasHigh := bounded && i < len(upper)
		if hasHigh {
			highDigit = upper[i].Digit
		}

		if highDigit-lowDigit > 1 {
			return append(out, PosEntry{Digit: lowDigit + 1, Site: site})
		}

		// Зазора нет: спускаемся в поддерево нижней границы.
		out = append(out, PosEntry{Digit: lowDigit, Site: lowSite})

		// Если на этом уровне нижняя граница строго меньше верхней,
		// глубже верхняя граница больше не ограничивает.
		if !hasHigh || highDigit != lowDigit || (hasLow && lower[i].Site != upper[i].Site) {
			bounded = false
		}
	}
}
